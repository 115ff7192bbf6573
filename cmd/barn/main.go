package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"barn/internal/app"
	"barn/internal/calendar"
	brncfg "barn/internal/config"
	"barn/internal/ingest"
	"barn/internal/logger"
	"barn/internal/market"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfgPath := os.Getenv("BARN_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := brncfg.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "ingest":
		err = runIngest(ctx, a, os.Args[2:])
	case "preflight":
		err = runPreflight(ctx, a, os.Args[2:])
	case "serve":
		err = a.Serve(ctx)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

func runIngest(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	symbols := fs.String("symbols", "", "逗号分隔的 symbol 列表")
	calName := fs.String("calendar", "24/7", "日历名或别名")
	timeframe := fs.String("timeframe", "minute", "存储粒度 (minute|session)")
	first := fs.String("first", "", "起始 session 日 (YYYY-MM-DD)")
	last := fs.String("last", "", "结束 session 日 (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbols == "" || *first == "" || *last == "" {
		return fmt.Errorf("-symbols/-first/-last 必填")
	}
	tf, err := market.ParseTimeframe(*timeframe)
	if err != nil {
		return err
	}
	firstDay, err := calendar.ParseSessionDate(*first)
	if err != nil {
		return err
	}
	lastDay, err := calendar.ParseSessionDate(*last)
	if err != nil {
		return err
	}
	_, err = a.RunIngest(ctx, ingest.Request{
		Symbols:      strings.Split(*symbols, ","),
		CalendarName: *calName,
		Timeframe:    tf,
		First:        firstDay,
		Last:         lastDay,
	})
	return err
}

func runPreflight(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("preflight", flag.ExitOnError)
	name := fs.String("bundle", "", "bundle 名")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("-bundle 必填")
	}
	report, err := a.RunPreflight(ctx, *name)
	if err != nil {
		return err
	}
	fmt.Println(report.Describe())
	if !report.Clean() {
		return fmt.Errorf("前置检查未通过")
	}
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "用法: barn <ingest|preflight|serve> [flags]")
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
