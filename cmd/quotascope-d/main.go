package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rmax-ai/quotascope/pkg/adapter"
	"github.com/rmax-ai/quotascope/pkg/adapter/anthropic"
	"github.com/rmax-ai/quotascope/pkg/adapter/cursor"
	"github.com/rmax-ai/quotascope/pkg/adapter/github"
	"github.com/rmax-ai/quotascope/pkg/adapter/openai"
	"github.com/rmax-ai/quotascope/pkg/api"
	"github.com/rmax-ai/quotascope/pkg/engine"
	"github.com/rmax-ai/quotascope/pkg/store"
	redisstore "github.com/rmax-ai/quotascope/pkg/store/redis"
)

func main() {
	fmt.Println(`{"level":"info","msg":"system_started","component":"quotascope-d"}`)

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Printf(`{"level":"fatal","msg":"invalid_config","error":"%v"}`+"\n", err)
		os.Exit(1)
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		fmt.Printf(`{"level":"fatal","msg":"failed_to_init_store","error":"%v"}`+"\n", err)
		os.Exit(1)
	}
	fmt.Printf(`{"level":"info","msg":"store_initialized","path":"%s"}`+"\n", cfg.DBPath)

	var mirror *redisstore.Mirror
	if cfg.RedisAddr != "" {
		mirror = redisstore.NewMirror(goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr}))
		fmt.Printf(`{"level":"info","msg":"redis_mirror_enabled","addr":"%s"}`+"\n", cfg.RedisAddr)
	}

	eng := engine.New(engine.Options{
		ConfigPath: cfg.ConfigPath,
		Interval:   cfg.PollInterval,
		Store:      st,
		Mirror:     mirror,
	})
	registerAdapters(eng, st, cfg.ConfigPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng.WarmStart(ctx)
	go eng.Run(ctx)

	srv := api.NewServer(eng, cfg.Addr)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		fmt.Printf(`{"level":"info","msg":"shutdown_initiated","signal":"%s"}`+"\n", sig)
	case err := <-serverErr:
		fmt.Printf(`{"level":"fatal","msg":"server_failed","error":"%v"}`+"\n", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_stop_server","error":"%v"}`+"\n", err)
	}

	if err := st.Close(); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_close_store","error":"%v"}`+"\n", err)
	} else {
		fmt.Println(`{"level":"info","msg":"store_closed"}`)
	}

	fmt.Println(`{"level":"info","msg":"shutdown_complete"}`)
}

// registerAdapters wires every bundled service into the engine. The
// registry and credential chains are fixed here; per-service token_env
// overrides from the config file are applied at build time, while the
// enabled set and interval stay hot-reloadable.
func registerAdapters(eng *engine.Engine, st *store.Store, configPath string) {
	tokenEnv := tokenEnvOverrides(configPath)
	var adapters []adapter.Adapter = []adapter.Adapter{
		anthropic.New(anthropic.Options{Store: st, TokenEnv: tokenEnv["anthropic"]}),
		github.New(github.Options{Store: st, TokenEnv: tokenEnv["github"]}),
		openai.New(openai.Options{Store: st, TokenEnv: tokenEnv["openai"]}),
		cursor.New(cursor.Options{Store: st}),
	}
	for _, a := range adapters {
		eng.Register(a)
		fmt.Printf(`{"level":"info","msg":"adapter_registered","service":"%s"}`+"\n", a.Identity().ID)
	}
}

// tokenEnvOverrides reads per-service token_env settings; a missing or
// broken config file means no overrides.
func tokenEnvOverrides(configPath string) map[string]string {
	out := make(map[string]string)
	if configPath == "" {
		return out
	}
	cfg, err := engine.LoadConfig(configPath)
	if err != nil || cfg == nil {
		return out
	}
	for id, svc := range cfg.Services {
		if svc.TokenEnv != "" {
			out[id] = svc.TokenEnv
			fmt.Printf(`{"level":"info","msg":"token_env_override","service":"%s","env":"%s"}`+"\n", id, svc.TokenEnv)
		}
	}
	return out
}
