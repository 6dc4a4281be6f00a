package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/netcompare/transfer/common"
	"github.com/netcompare/transfer/data"
	"github.com/netcompare/transfer/log"
	"github.com/netcompare/transfer/notify"
	"github.com/netcompare/transfer/routing"
	"github.com/netcompare/transfer/services"
	"github.com/netcompare/transfer/transport"
	"go.uber.org/zap"
)

var version = "XX.X.XXXX"

func main() {
	args := os.Args[1:]
	if len(args) > 0 && strings.Compare(args[0], "--version") == 0 {
		fmt.Println(version)
		return
	}

	logger, console := log.NewLogger("bench")
	defer func() { _ = logger.Sync() }()

	if console {
		printWelcome()
	}

	mode := strings.ToLower(os.Getenv("MODE"))
	switch mode {
	case "send", "serve", "report":
	default:
		logger.Error("MODE have to be one of send, serve, report")
		os.Exit(5)
	}
	logger.Sugar().Infof("MODE: %s", mode)

	protocolName := strings.ToLower(os.Getenv("PROTOCOL"))
	if len(protocolName) == 0 {
		protocolName = "rudp"
	}
	logger.Sugar().Infof("PROTOCOL: %s", protocolName)

	config := transport.Config{
		TargetAddress:   os.Getenv("TARGET_ADDRESS"),
		BindAddress:     os.Getenv("BIND_ADDRESS"),
		TargetPath:      os.Getenv("TARGET_PATH"),
		ChunkMultiplier: intEnv(logger, "CHUNK_MULTIPLIER", 1),
		WindowSize:      intEnv(logger, "WINDOW_SIZE", 0),
		RetryLimit:      intEnv(logger, "RETRY_LIMIT", 0),
		AckTimeout:      durationEnv(logger, "ACK_TIMEOUT"),
		IdleTimeout:     durationEnv(logger, "IDLE_TIMEOUT"),
		PacingInterval:  durationEnv(logger, "PACING_INTERVAL"),
	}

	switch mode {
	case "send":
		send(protocolName, config, logger)
	case "serve":
		serve(protocolName, config, logger)
	case "report":
		report(logger)
	}
}

func send(protocolName string, config transport.Config, logger *zap.Logger) {
	filePath := os.Getenv("FILE")
	if len(filePath) == 0 {
		logger.Error("FILE have to be specified")
		os.Exit(10)
	}
	if len(config.TargetAddress) == 0 {
		logger.Error("TARGET_ADDRESS have to be specified")
		os.Exit(11)
	}
	logger.Sugar().Infof("FILE: %s", filePath)
	logger.Sugar().Infof("TARGET_ADDRESS: %s", config.TargetAddress)

	t, err := transport.New(protocolName, config, logger)
	if err != nil {
		logger.Error("Transport selection is failed", zap.Error(err))
		os.Exit(12)
	}

	transferReport, err := t.Transfer(filePath)
	if err != nil {
		if transferReport != nil {
			logger.Sugar().Warnf("Partial counters: %s", transferReport.String())
		}
		logger.Error("Transfer is failed", zap.Error(err))
		os.Exit(13)
	}

	publish(transferReport, logger)
}

func serve(protocolName string, config transport.Config, logger *zap.Logger) {
	if matched, err := regexp.MatchString(`:\d{1,5}$`, config.BindAddress); err != nil || !matched {
		config.BindAddress = fmt.Sprintf("%s:9999", config.BindAddress)
	}
	if len(config.TargetPath) == 0 {
		config.TargetPath = "./received"
	}
	logger.Sugar().Infof("BIND_ADDRESS: %s", config.BindAddress)
	logger.Sugar().Infof("TARGET_PATH: %s", config.TargetPath)

	t, err := transport.New(protocolName, config, logger)
	if err != nil {
		logger.Error("Transport selection is failed", zap.Error(err))
		os.Exit(20)
	}

	if err := t.Serve(context.Background()); err != nil {
		logger.Error("Server is failed", zap.Error(err))
		os.Exit(21)
	}
}

func report(logger *zap.Logger) {
	bindAddr := os.Getenv("BIND_ADDRESS")
	if matched, err := regexp.MatchString(`:\d{1,5}$`, bindAddr); err != nil || !matched {
		bindAddr = fmt.Sprintf("%s:4000", bindAddr)
	}
	logger.Sugar().Infof("BIND_ADDRESS: %s", bindAddr)

	results, summary := stores(logger)
	if results == nil && summary == nil {
		logger.Error("Reporting needs at least one of MONGO_CONN, REDIS_ADDRESS")
		os.Exit(30)
	}

	routerManager := routing.NewManager()
	routerManager.Add(routing.NewReportsRouter(results, summary, logger))

	proxy := services.NewProxy(bindAddr, routerManager, logger)
	proxy.Start()
}

// publish fans one report out to every configured sink; the log line is the
// sink that is always there.
func publish(report *common.TransferReport, logger *zap.Logger) {
	logger.Sugar().Infof("RESULT: %s", report.String())

	results, summary := stores(logger)
	if results != nil {
		if err := results.Save(report); err != nil {
			logger.Warn("Report archiving is failed", zap.Error(err))
		}
	}
	if summary != nil {
		if err := summary.Mark(report); err != nil {
			logger.Warn("Summary update is failed", zap.Error(err))
		}
	}

	rabbitTarget := os.Getenv("RABBITMQ_TARGET")
	if len(rabbitTarget) > 0 {
		rabbitQueue := os.Getenv("RABBITMQ_QUEUE")
		if len(rabbitQueue) == 0 {
			rabbitQueue = "transfer-reports"
		}
		if err := notify.NewRabbitMQ(rabbitTarget, rabbitQueue).Publish(report); err != nil {
			logger.Warn("Report publishing is failed", zap.Error(err))
		}
	}
}

func stores(logger *zap.Logger) (data.Results, data.Summary) {
	var results data.Results
	var summary data.Summary

	mongoConn := os.Getenv("MONGO_CONN")
	if len(mongoConn) > 0 {
		mongoDb := os.Getenv("MONGO_DATABASE")
		if len(mongoDb) == 0 {
			mongoDb = "transfer-bench"
		}

		conn, err := data.NewConnection(mongoConn)
		if err != nil {
			logger.Error("Unable to connect to mongo", zap.Error(err))
			os.Exit(40)
		}
		results, err = data.NewResults(conn, mongoDb)
		if err != nil {
			logger.Error("Results store is failed", zap.Error(err))
			os.Exit(41)
		}
	}

	redisAddress := os.Getenv("REDIS_ADDRESS")
	if len(redisAddress) > 0 {
		client, err := data.NewCacheStandaloneClient(redisAddress, os.Getenv("REDIS_PASSWORD"))
		if err != nil {
			logger.Error("Unable to connect to redis", zap.Error(err))
			os.Exit(42)
		}
		summary = data.NewSummary(client, "transfer-bench")
	}

	return results, summary
}

func intEnv(logger *zap.Logger, name string, fallback int) int {
	value := os.Getenv(name)
	if len(value) == 0 {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		logger.Sugar().Errorf("%s is wrong: %s", name, value)
		os.Exit(3)
	}
	return parsed
}

func durationEnv(logger *zap.Logger, name string) time.Duration {
	value := os.Getenv(name)
	if len(value) == 0 {
		return 0
	}

	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		logger.Sugar().Errorf("%s is wrong: %s", name, value)
		os.Exit(4)
	}
	return parsed
}

func printWelcome() {
	fmt.Println()
	fmt.Printf("Transfer Bench, version %s\n", version)
	fmt.Println("Protocol throughput and reliability comparison")
	fmt.Println()
}
