package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/echobot/chat-relay/internal/completion"
	"github.com/echobot/chat-relay/internal/history"
	"github.com/echobot/chat-relay/internal/link"
	"github.com/echobot/chat-relay/internal/messaging"
	"github.com/echobot/chat-relay/internal/metrics"
	"github.com/echobot/chat-relay/internal/ratelimit"
	"github.com/echobot/chat-relay/internal/reply"
)

// defaultSystemPrompt is used when SYSTEM_PROMPT is not set.
const defaultSystemPrompt = "You are the room owner's assistant. Reply to chat " +
	"messages on their behalf. Keep responses short, friendly, and conversational."

func main() {
	wsBase := os.Getenv("WS_URL")
	token := os.Getenv("WS_TOKEN")
	owner := os.Getenv("CHAT_OWNER")
	if wsBase == "" || owner == "" {
		log.Fatal("WS_URL and CHAT_OWNER must be set")
	}

	linkCfg := link.DefaultConfig()
	linkCfg.URL = wsBase + token
	if v := os.Getenv("RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			linkCfg.RetryDelay = d
		}
	}
	if v := os.Getenv("STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			linkCfg.StaleAfter = d
		}
	}

	compCfg := completion.DefaultConfig()
	compCfg.APIKey = os.Getenv("OPENAI_API_KEY")
	if compCfg.APIKey == "" {
		log.Fatal("OPENAI_API_KEY must be set")
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		compCfg.Model = v
	}

	systemPrompt := defaultSystemPrompt
	if v := os.Getenv("SYSTEM_PROMPT"); v != "" {
		systemPrompt = v
	}

	metricsAddr := ":9100"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}

	log.Printf("chat relay starting")
	log.Printf("  ws_url:       %s", wsBase)
	log.Printf("  chat_owner:   %s", owner)
	log.Printf("  model:        %s", compCfg.Model)
	log.Printf("  retry_delay:  %s", linkCfg.RetryDelay)
	log.Printf("  stale_after:  %s", linkCfg.StaleAfter)
	log.Printf("  metrics_addr: %s", metricsAddr)

	histories := history.NewStore()
	completer := completion.NewClient(compCfg)

	// Declare the pipeline early so the link's frame handler can capture it.
	var pipeline *reply.Pipeline
	l := link.New(linkCfg, func(data []byte) {
		pipeline.HandleFrame(data)
	})
	pipeline = reply.New(reply.Config{
		OwnerID:      owner,
		SystemPrompt: systemPrompt,
	}, histories, completer, l)

	// --- Redis (optional): per-sender reply throttle ---
	var redisClient *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}

		rule := ratelimit.RuleReply
		if v := os.Getenv("REPLY_LIMIT"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				rule.Limit = n
			}
		}
		if v := os.Getenv("REPLY_WINDOW"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				rule.Window = d
			}
		}

		limiter := ratelimit.NewLimiter(redisClient)
		pipeline.SetThrottle(reply.ThrottleFunc(func(ctx context.Context, senderID string) (bool, error) {
			return limiter.Allow(ctx, senderID, rule)
		}))
		log.Printf("  redis_addr:   %s (reply limit %d per %s)", addr, rule.Limit, rule.Window)
	}

	// --- NATS (optional): event tap for downstream consumers ---
	var tap *messaging.Tap
	if url := os.Getenv("NATS_URL"); url != "" {
		tapCfg := messaging.DefaultConfig()
		tapCfg.URL = url
		var err error
		tap, err = messaging.NewTap(tapCfg)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		pipeline.SetTap(tap)
		log.Printf("  nats_url:     %s", url)
	}

	// --- Metrics endpoint ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		l.Close()
		pipeline.Wait()
		if tap != nil {
			tap.Close()
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
		cancel()
	}()

	l.Run(ctx)
	log.Printf("relay stopped")
}
