package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pivot-protocol/walletcore/ports"
	"github.com/pivot-protocol/walletcore/service"
)

// SetupRouter wires the API surface.
func SetupRouter(
	auth *service.AuthService,
	wallet *service.WalletService,
	tx *service.TxService,
	netmon *service.NetworkMonitor,
	tokenizer ports.Tokenizer,
	registry *prometheus.Registry,
	log *logrus.Logger,
) *gin.Engine {
	router := gin.Default()

	handlers := NewHandlers(auth, wallet, tx, netmon, tokenizer)

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/challenge", handlers.Challenge)
		authGroup.POST("/login", handlers.Login)
		authGroup.POST("/logout", handlers.Logout)
		authGroup.GET("/session", handlers.Session)
	}

	api := router.Group("/api")
	api.Use(AuthMiddleware(tokenizer))
	{
		api.GET("/me", handlers.Me)

		api.GET("/wallet", handlers.WalletState)
		api.POST("/wallet/chain", handlers.SwitchChain)

		api.GET("/gas", handlers.GasPrices)
		api.POST("/tx/estimate", handlers.EstimateGas)
		api.POST("/tx", handlers.SendTransaction)
		api.GET("/tx", handlers.Transactions)
		api.GET("/tx/:hash", handlers.Transaction)
		api.POST("/tx/:hash/speedup", handlers.SpeedUp)
		api.POST("/tx/:hash/cancel", handlers.Cancel)
		api.DELETE("/tx", handlers.ClearHistory)
	}

	router.GET("/health", handlers.Health)
	router.POST("/health/reconnect", handlers.Reconnect)
	router.GET("/ws/tx", TxStream(tx, log))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return router
}
