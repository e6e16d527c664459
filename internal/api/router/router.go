package router

import (
	"github.com/cuongbtq/transaction-queue/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)

	transactionHandler := handler.NewTransactionHandler(deps)

	// API v1 routes
	v1 := r.Group("/v1")
	{
		transactions := v1.Group("/transactions")
		{
			// POST /v1/transactions/submit - Submit a transaction
			transactions.POST("/submit", transactionHandler.SubmitTransaction)

			// POST /v1/transactions - Same as /submit
			transactions.POST("", transactionHandler.SubmitTransaction)

			// GET /v1/transactions - List transactions with filtering and pagination
			transactions.GET("", transactionHandler.ListTransactions)

			// GET /v1/transactions/:id - Get transaction details and queue position
			transactions.GET("/:id", transactionHandler.GetTransaction)
		}

		// GET /v1/queues/:name - Queue depth on both paths
		v1.GET("/queues/:name", transactionHandler.QueueStats)
	}

	return r
}
