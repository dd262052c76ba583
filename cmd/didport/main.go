package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/didport/didport/internal/backorder"
	"github.com/didport/didport/internal/clock"
	"github.com/didport/didport/internal/config"
	"github.com/didport/didport/internal/logger"
	"github.com/didport/didport/internal/metrics"
	"github.com/didport/didport/internal/migration"
	"github.com/didport/didport/internal/number"
	"github.com/didport/didport/internal/outbox"
	"github.com/didport/didport/internal/payment"
	"github.com/didport/didport/internal/providers/email"
	"github.com/didport/didport/internal/purchase"
	"github.com/didport/didport/internal/rating"
	"github.com/didport/didport/internal/server"
	"github.com/didport/didport/internal/sippy"
	"github.com/didport/didport/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		metrics.Module,

		// External providers
		sippy.Module,
		email.Module,

		// Functional domains
		number.Module,
		rating.Module,
		purchase.Module,
		backorder.Module,
		payment.Module,
		outbox.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
