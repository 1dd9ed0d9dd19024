// Package builtin registers all built-in reporters.
package builtin

import (
	"firestige.xyz/festats/internal/reporter"
	"firestige.xyz/festats/internal/reporter/clickhouse"
	"firestige.xyz/festats/internal/reporter/console"
	"firestige.xyz/festats/internal/reporter/csvfile"
	"firestige.xyz/festats/internal/reporter/kafka"
	"firestige.xyz/festats/internal/reporter/nats"
)

func init() {
	reporter.Register(console.Name, console.New)
	reporter.Register(csvfile.Name, csvfile.New)
	reporter.Register(kafka.Name, kafka.New)
	reporter.Register(nats.Name, nats.New)
	reporter.Register(clickhouse.Name, clickhouse.New)
}
