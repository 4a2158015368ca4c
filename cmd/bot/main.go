package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"binance-perp-grid-go/internal/backtest"
	"binance-perp-grid-go/internal/config"
	"binance-perp-grid-go/internal/downloader"
	"binance-perp-grid-go/internal/exchange"
	"binance-perp-grid-go/internal/live"
	"binance-perp-grid-go/internal/logger"
	"binance-perp-grid-go/internal/metrics"
	"binance-perp-grid-go/internal/models"
	"binance-perp-grid-go/internal/persistence"
	"binance-perp-grid-go/internal/reporter"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or backtest")
	dataPath := flag.String("data", "", "path to historical tick data file for backtesting")
	symbol := flag.String("symbol", "", "symbol to download (e.g., BTCUSDT)")
	startDate := flag.String("start", "", "start date for backtesting (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date for backtesting (YYYY-MM-DD)")
	outputDir := flag.String("output", "", "directory to export fills/stats JSON (backtest only)")
	flag.Parse()

	// 在配置加载前先挂一个默认 logger，保证早期日志可见
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	switch *mode {
	case "live":
		runLiveMode(cfg)
	case "backtest":
		finalDataPath, err := handleBacktestData(*symbol, *startDate, *endDate, *dataPath)
		if err != nil {
			logger.S().Fatal(err)
		}
		runBacktestMode(cfg, finalDataPath, *outputDir)
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live' 或 'backtest'。", *mode)
	}
}

// handleBacktestData 处理回测的数据准备，必要时先下载。
// 成功后返回数据文件路径。
func handleBacktestData(symbol, startDate, endDate, dataPath string) (string, error) {
	shouldDownload := symbol != "" && startDate != "" && endDate != ""

	if shouldDownload {
		startTime, err1 := time.Parse("2006-01-02", startDate)
		endTime, err2 := time.Parse("2006-01-02", endDate)
		if err1 != nil || err2 != nil {
			return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
		}

		d := downloader.NewTickDownloader()
		fileName := fmt.Sprintf("data/%s-ticks-%s-%s.csv", symbol, startDate, endDate)
		if err := d.DownloadAggTrades(symbol, fileName, startTime, endTime); err != nil {
			return "", fmt.Errorf("下载数据失败: %v", err)
		}
		return fileName, nil
	}

	if dataPath == "" {
		return "", fmt.Errorf("回测模式需要通过 --data 或 --symbol/start/end 参数指定数据源")
	}
	return dataPath, nil
}

// runLiveMode 运行实盘控制回路
func runLiveMode(cfg *models.Config) {
	logger.S().Info("--- 启动实盘交易模式 ---")

	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		logger.S().Fatal("错误：BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置。")
	}

	if cfg.IsTestnet {
		cfg.BaseURL = cfg.TestnetAPIURL
		cfg.WSBaseURL = cfg.TestnetWSURL
		logger.S().Info("正在使用币安测试网...")
	} else {
		cfg.BaseURL = cfg.LiveAPIURL
		cfg.WSBaseURL = cfg.LiveWSURL
		logger.S().Info("正在使用币安生产网...")
	}

	ex, err := exchange.NewBinanceExchange(apiKey, secretKey, cfg.BaseURL, cfg.WSBaseURL, logger.L())
	if err != nil {
		logger.S().Fatalf("初始化交易所失败: %v", err)
	}

	// 账户前置设置：双向持仓 + 全仓 + 目标杠杆
	if err := ex.SetHedgeMode(); err != nil {
		logger.S().Fatalf("设置双向持仓模式失败: %v", err)
	}
	if err := ex.SetCrossMargin(cfg.Symbol); err != nil {
		logger.S().Fatalf("设置全仓保证金模式失败: %v", err)
	}
	if err := ex.SetLeverage(cfg.Symbol, int(cfg.Leverage)); err != nil {
		logger.S().Fatalf("设置杠杆失败: %v", err)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "session_db"
	}
	repo, err := persistence.NewBadgerRepository(dbPath)
	if err != nil {
		logger.S().Fatalf("打开会话数据库失败: %v", err)
	}
	defer repo.Close()

	state, err := repo.LoadSession(cfg.Symbol)
	if err != nil {
		logger.S().Fatalf("加载会话状态失败: %v", err)
	}
	if state == nil {
		state = &models.SessionState{
			SessionID: uuid.NewString(),
			Symbol:    cfg.Symbol,
		}
		logger.S().Infof("未找到历史会话，新建会话 %s", state.SessionID)
	} else {
		logger.S().Infof("恢复会话 %s，上次更新于 %s",
			state.SessionID, time.UnixMilli(state.UpdatedAtMs).Format(time.RFC3339))
	}

	session := live.NewSessionManager(state, repo, logger.L())
	session.Start()
	defer session.Stop()

	metrics.Serve(cfg.MetricsListenAddr, logger.L())

	bot := live.NewBot(cfg, ex, session, live.NewTagCodec(state.SessionID), logger.L())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.S().Info("收到退出信号，正在停止...")
		cancel()
	}()

	if err := bot.Run(ctx, ex); err != nil && err != context.Canceled {
		logger.S().Fatalf("控制回路退出: %v", err)
	}
	logger.S().Info("控制回路已停止，会话状态已持久化。")
}

// runBacktestMode 运行回测模式
func runBacktestMode(cfg *models.Config, dataPath, outputDir string) {
	logger.S().Info("--- 启动回测模式 ---")

	ticks, err := downloader.LoadTicks(dataPath)
	if err != nil {
		logger.S().Fatalf("加载历史数据失败: %v", err)
	}
	logger.S().Infof("已加载 %d 笔成交，开始回放...", len(ticks))

	engine := backtest.NewEngine(cfg)
	result := engine.Run(ticks)

	if !result.Finished {
		logger.S().Warn("回放提前终止：爆仓或余额耗尽。")
	}

	m := reporter.CalculateMetrics(cfg, result)
	reporter.WriteReport(os.Stdout, cfg, m)

	if outputDir != "" {
		if err := reporter.ExportResult(outputDir, result); err != nil {
			logger.S().Fatalf("导出回测结果失败: %v", err)
		}
		logger.S().Infof("成交日志与权益采样已导出到 %s", outputDir)
	}
}
