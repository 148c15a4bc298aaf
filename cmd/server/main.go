package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/chatbridge/internal/hostkit"
	"github.com/tyemirov/chatbridge/internal/web"
	"github.com/tyemirov/chatbridge/pkg/framebridge"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "chatbridge",
		Short:   "Host-side server for an embedded vendor chat: login callbacks, token storage, and access-link proxying",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("database_url", "", "Database URL for bridge storage (postgres:// or sqlite://; leave empty for in-memory storage)")
	rootCmd.Flags().StringSlice("vendor_origins", []string{"https://chat.crowd1.com"}, "Origins (exact) or domains (suffix) allowed to message the host page")
	rootCmd.Flags().String("origin_match", string(framebridge.OriginMatchExact), "Origin match mode: exact or suffix")
	rootCmd.Flags().String("frame_origin", "", "Target origin for messages forwarded to the embedded frame; defaults to the first vendor origin in exact mode")
	rootCmd.Flags().String("embed_base_url", "https://chat.crowd1.com/embed", "Base URL of the embedded chat frame")
	rootCmd.Flags().String("project_id", framebridge.DefaultProjectID, "Vendor project selected in the embedded frame")
	rootCmd.Flags().Bool("show_login_button", true, "Ask the embedded frame to render its login button")
	rootCmd.Flags().String("vendor_access_url", "https://chat-api.crowd1.com/api/v1/crowd1/access", "Vendor endpoint that issues access links")
	rootCmd.Flags().String("callback_redirect_path", "/", "Where the callback page navigates after storing a token")
	rootCmd.Flags().Duration("callback_redirect_delay", 2*time.Second, "How long the callback page waits before navigating")
	rootCmd.Flags().Duration("proxy_timeout", hostkit.DefaultProxyTimeout, "Timeout for one vendor access request")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin host pages (sets SameSite=None cookies)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")

	for _, flagName := range []string{
		"listen_addr",
		"database_url",
		"vendor_origins",
		"origin_match",
		"frame_origin",
		"embed_base_url",
		"project_id",
		"show_login_button",
		"vendor_access_url",
		"callback_redirect_path",
		"callback_redirect_delay",
		"proxy_timeout",
		"enable_cors",
		"cors_allowed_origins",
		"cookie_domain",
		"dev_insecure_http",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeInvalidVendorOrigins    = "config.invalid_vendor_origins"
	configCodeMissingFrameOrigin      = "config.missing_frame_origin"
	configCodeInvalidEmbedBaseURL     = "config.invalid_embed_base_url"
	configCodeMissingVendorAccessURL  = "config.missing_vendor_access_url"
	configCodeInvalidRedirectPath     = "config.invalid_callback_redirect_path"
	configCodeInvalidRedirectDelay    = "config.invalid_callback_redirect_delay"
	configCodeInvalidProxyTimeout     = "config.invalid_proxy_timeout"
	configCodeMissingCORSOrigins      = "config.missing_cors_allowed_origins"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeStorageInit             = "config.storage_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (hostkit.ServerConfig, error) {
	originMatch := framebridge.OriginMatch(strings.ToLower(strings.TrimSpace(viper.GetString("origin_match"))))
	vendorOrigins := viper.GetStringSlice("vendor_origins")
	policy, policyErr := framebridge.NewOriginPolicy(originMatch, vendorOrigins)
	if policyErr != nil {
		return hostkit.ServerConfig{}, configError(configCodeInvalidVendorOrigins, policyErr.Error())
	}

	frameOrigin := strings.TrimSpace(viper.GetString("frame_origin"))
	if frameOrigin == "" {
		if policy.Mode() == framebridge.OriginMatchSuffix {
			return hostkit.ServerConfig{}, configError(configCodeMissingFrameOrigin, "frame_origin must be provided when origin_match is suffix")
		}
		frameOrigin = policy.Allowed()[0]
	}

	embed := framebridge.EmbedConfig{
		BaseURL:         strings.TrimSpace(viper.GetString("embed_base_url")),
		ProjectID:       strings.TrimSpace(viper.GetString("project_id")),
		ShowLoginButton: viper.GetBool("show_login_button"),
	}
	if _, embedErr := framebridge.BuildEmbedURL(embed, ""); embedErr != nil {
		return hostkit.ServerConfig{}, configError(configCodeInvalidEmbedBaseURL, "embed_base_url must be an absolute http(s) URL")
	}

	vendorAccessURL := strings.TrimSpace(viper.GetString("vendor_access_url"))
	if vendorAccessURL == "" {
		return hostkit.ServerConfig{}, configError(configCodeMissingVendorAccessURL, "vendor_access_url must be provided")
	}

	redirectPath := strings.TrimSpace(viper.GetString("callback_redirect_path"))
	if !strings.HasPrefix(redirectPath, "/") || strings.HasPrefix(redirectPath, "//") {
		return hostkit.ServerConfig{}, configError(configCodeInvalidRedirectPath, "callback_redirect_path must be a same-origin absolute path")
	}

	redirectDelay := viper.GetDuration("callback_redirect_delay")
	if redirectDelay < 0 {
		return hostkit.ServerConfig{}, configError(configCodeInvalidRedirectDelay, "callback_redirect_delay must not be negative")
	}

	proxyTimeout := viper.GetDuration("proxy_timeout")
	if proxyTimeout <= 0 {
		return hostkit.ServerConfig{}, configError(configCodeInvalidProxyTimeout, "proxy_timeout must be greater than zero")
	}

	enableCORS := viper.GetBool("enable_cors")
	if enableCORS && len(viper.GetStringSlice("cors_allowed_origins")) == 0 {
		return hostkit.ServerConfig{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	sameSite := http.SameSiteLaxMode
	if enableCORS {
		sameSite = http.SameSiteNoneMode
	}

	return hostkit.ServerConfig{
		VendorOrigins:         policy.Allowed(),
		OriginMatch:           policy.Mode(),
		FrameOrigin:           frameOrigin,
		Embed:                 embed,
		VendorAccessURL:       vendorAccessURL,
		ProxyTimeout:          proxyTimeout,
		CallbackRedirectPath:  redirectPath,
		CallbackRedirectDelay: redirectDelay,
		CookieDomain:          viper.GetString("cookie_domain"),
		ProfileCookieName:     hostkit.DefaultProfileCookieName,
		ProfileTTL:            hostkit.DefaultProfileTTL,
		SameSiteMode:          sameSite,
		AllowInsecureHTTP:     viper.GetBool("dev_insecure_http"),
		Timings:               hostkit.DefaultBridgeTimings(),
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(hostkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	databaseURL := viper.GetString("database_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	storage, closeStorage, storageErr := openStorage(commandContext, databaseURL, logger)
	if storageErr != nil {
		return fmt.Errorf("%s: %w", configCodeStorageInit, storageErr)
	}
	defer closeStorage()

	metricsRecorder := hostkit.NewCounterMetrics()
	defer func() {
		logger.Info("bridge counters", zap.Any("counters", metricsRecorder.Snapshot()))
	}()

	router, routerErr := buildRouter(logger, serverConfig, storage, metricsRecorder, enableCORS, corsAllowedOrigins)
	if routerErr != nil {
		return routerErr
	}

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", listenAddr),
		zap.Strings("vendor_origins", serverConfig.VendorOrigins),
		zap.String("origin_match", string(serverConfig.OriginMatch)))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func openStorage(ctx context.Context, databaseURL string, logger *zap.Logger) (hostkit.StorageBackend, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if databaseURL == "" {
		logger.Info("using in-memory bridge storage")
		return hostkit.NewMemoryStorage(), func() {}, nil
	}
	persistentStorage, storageErr := hostkit.NewDatabaseStorage(ctx, databaseURL)
	if storageErr != nil {
		return nil, nil, storageErr
	}
	logger.Info("using persistent bridge storage", zap.String("driver", persistentStorage.Driver()))
	return persistentStorage, func() {
		if closeErr := persistentStorage.Close(); closeErr != nil {
			logger.Warn("bridge storage close failed", zap.Error(closeErr))
		}
	}, nil
}

func buildRouter(logger *zap.Logger, serverConfig hostkit.ServerConfig, storage hostkit.StorageBackend, metricsRecorder *hostkit.CounterMetrics, enableCORS bool, corsAllowedOrigins []string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return nil, corsErr
		}
		router.Use(corsMiddleware)
	}

	vendorProxy, proxyErr := hostkit.NewVendorProxy(serverConfig.VendorAccessURL, serverConfig.ProxyTimeout, logger, metricsRecorder)
	if proxyErr != nil {
		return nil, proxyErr
	}
	router.Any(web.VendorProxyEndpoint, vendorProxy.Handle)

	profiled := router.Group("/")
	profiled.Use(hostkit.RequireProfile(serverConfig))
	profiled.GET("/embed/config.js", web.HandleEmbedConfig(logger, serverConfig, storage))
	profiled.GET(web.CallbackEndpoint, web.HandleCallbackPage(logger, serverConfig, storage, metricsRecorder))
	hostkit.MountBridgeRoutes(profiled, serverConfig, storage, logger, metricsRecorder)

	return router, nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
