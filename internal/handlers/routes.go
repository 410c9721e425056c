package handlers

import (
	"stockledger/internal/middleware"

	"github.com/labstack/echo/v4"
)

// API groups the handlers mounted under /v1. Jobs is nil when no scheduler runs in this process.
type API struct {
	Inventory    *InventoryHandlers
	Reservations *ReservationHandlers
	Transfers    *TransferHandlers
	BufferRules  *BufferRuleHandlers
	Jobs         *JobHandlers
}

// RegisterRoutes mounts the ledger API on g, which must already carry the tenant JWT middleware.
func RegisterRoutes(g *echo.Group, api *API) {
	read := middleware.RequireScope(middleware.ScopeRead)
	write := middleware.RequireScope(middleware.ScopeWrite)
	admin := middleware.RequireScope(middleware.ScopeAdmin)

	g.GET("/availability", api.Inventory.GetAvailability, read)

	inventory := g.Group("/inventory")
	inventory.GET("", api.Inventory.ListItems, read)
	inventory.GET("/:variant_id/:location_id", api.Inventory.GetItem, read)
	inventory.GET("/:variant_id/:location_id/replay", api.Inventory.Replay, read)
	inventory.GET("/:variant_id/:location_id/buffers", api.BufferRules.PreviewBuffers, read)
	inventory.POST("/movements", api.Inventory.ApplyMovement, write)
	inventory.POST("/sync", api.Inventory.SyncFromExternal, write)
	inventory.PUT("/safety-stock", api.Inventory.SetSafetyStock, write)
	inventory.POST("/bulk-adjust", api.Inventory.BulkAdjust, write)

	g.GET("/movements", api.Inventory.ListMovements, read)
	g.POST("/movements/export", api.Inventory.ExportMovements, admin)

	reservations := g.Group("/reservations")
	reservations.GET("", api.Reservations.ListReservations, read)
	reservations.POST("", api.Reservations.Reserve, write)
	reservations.GET("/:id", api.Reservations.GetReservation, read)
	reservations.POST("/:id/release", api.Reservations.Release, write)
	reservations.POST("/:id/consume", api.Reservations.Consume, write)
	reservations.POST("/:id/extend", api.Reservations.Extend, write)

	transfers := g.Group("/transfers")
	transfers.GET("", api.Transfers.ListTransfers, read)
	transfers.POST("", api.Transfers.CreateTransfer, write)
	transfers.POST("/bulk", api.Transfers.BulkCreateTransfers, write)
	transfers.GET("/:id", api.Transfers.GetTransfer, read)
	transfers.POST("/:id/ship", api.Transfers.ShipTransfer, write)
	transfers.POST("/:id/complete", api.Transfers.CompleteTransfer, write)
	transfers.POST("/:id/cancel", api.Transfers.CancelTransfer, write)

	rules := g.Group("/buffer-rules")
	rules.GET("", api.BufferRules.ListRules, read)
	rules.POST("", api.BufferRules.SaveRule, admin)
	rules.DELETE("/:id", api.BufferRules.DeactivateRule, admin)
	rules.POST("/recompute", api.BufferRules.Recompute, write)

	if api.Jobs != nil {
		jobs := g.Group("/admin/jobs", admin)
		jobs.GET("", api.Jobs.ListJobs)
		jobs.POST("/:name/run", api.Jobs.RunJob)
	}
}
