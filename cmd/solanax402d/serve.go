package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	x402 "github.com/0xDeepanshu/solanax402"
	"github.com/0xDeepanshu/solanax402/evm"
	"github.com/0xDeepanshu/solanax402/facilitator"
	x402http "github.com/0xDeepanshu/solanax402/http"
	ginx402 "github.com/0xDeepanshu/solanax402/http/gin"
	"github.com/0xDeepanshu/solanax402/ledger"
	solanax402 "github.com/0xDeepanshu/solanax402/solana"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the payment-gated HTTP server",
	Long:  "Serve a demo resource behind the x402 payment gate. Unpaid requests get a 402 challenge; requests carrying a verified transaction identifier get the resource.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	builder, err := x402.NewRequirementBuilder(
		x402.Price{
			Amount: cfg.PriceAmount,
			Asset:  x402.Asset{Address: cfg.AssetAddress, Decimals: cfg.AssetDecimals},
		},
		cfg.Network,
		cfg.PayTo,
		x402.WithDescription(cfg.Description),
	)
	if err != nil {
		logger.Error("invalid payment configuration", "error", err)
		os.Exit(1)
	}

	verifier, err := buildFacilitator(cfg, logger)
	if err != nil {
		logger.Error("failed to build verifier", "error", err)
		os.Exit(1)
	}

	claims, cleanup, err := buildLedger(cfg, logger)
	if err != nil {
		logger.Error("failed to build ledger", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	gate, err := x402http.NewGate(x402http.GateConfig{
		Builders:    []*x402.RequirementBuilder{builder},
		Facilitator: verifier,
		Ledger:      claims,
		VerifyOnly:  cfg.VerifyOnly,
		AllowOrigin: cfg.AllowOrigin,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to build payment gate", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	paid := r.Group("/api", ginx402.Middleware(gate))
	paid.POST("/try", func(c *gin.Context) {
		result := ginx402.GetVerificationFromContext(c)
		c.JSON(http.StatusOK, gin.H{
			"message": "Here is your paid content.",
			"payer":   result.Payer,
			"amount":  result.Amount,
			"network": result.Network,
		})
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		logger.Info("starting server",
			"addr", cfg.ListenAddr,
			"network", cfg.Network,
			"price", cfg.PriceAmount,
			"payTo", cfg.PayTo)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

// buildFacilitator picks the verification backend: a remote facilitator when
// FACILITATOR_URL is set, otherwise direct chain verification for the
// configured network.
func buildFacilitator(cfg *Config, logger *slog.Logger) (facilitator.Interface, error) {
	if cfg.FacilitatorURL != "" {
		logger.Info("using remote facilitator", "url", cfg.FacilitatorURL)
		return &x402http.FacilitatorClient{
			BaseURL:       cfg.FacilitatorURL,
			Timeouts:      x402.DefaultTimeouts,
			MaxRetries:    2,
			Authorization: cfg.FacilitatorAuth,
		}, nil
	}

	networkType, err := x402.ValidateNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}

	switch networkType {
	case x402.NetworkTypeSVM:
		v, err := solanax402.NewVerifier(cfg.Network, solanax402.WithVerifierLogger(logger))
		if err != nil {
			return nil, err
		}
		return v, nil
	case x402.NetworkTypeEVM:
		v, err := evm.NewVerifier(cfg.Network, cfg.RPCURL, evm.WithVerifierLogger(logger))
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, x402.ErrInvalidNetwork
	}
}

// buildLedger picks the claim store: MySQL when MYSQL_DSN is set, otherwise
// in-memory. The returned cleanup closes the database connection.
func buildLedger(cfg *Config, logger *slog.Logger) (ledger.Ledger, func(), error) {
	if cfg.MySQLDSN == "" {
		logger.Info("using in-memory claim ledger")
		return ledger.NewMemoryLedger(), func() {}, nil
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	store := ledger.NewSQLLedger(db)
	if err := store.Init(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	logger.Info("using MySQL claim ledger")
	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close database", "error", err)
		}
	}
	return store, cleanup, nil
}
