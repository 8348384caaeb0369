package database

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// DBStatsCollector exports database/sql pool statistics.
type DBStatsCollector struct {
	db      *sql.DB
	service string

	openConns    *prometheus.Desc
	inUseConns   *prometheus.Desc
	idleConns    *prometheus.Desc
	waitCount    *prometheus.Desc
	waitDuration *prometheus.Desc
}

// NewDBStatsCollector creates a collector for db labelled with service.
func NewDBStatsCollector(db *sql.DB, service string) *DBStatsCollector {
	labels := []string{"service"}
	return &DBStatsCollector{
		db:      db,
		service: service,
		openConns: prometheus.NewDesc("db_pool_open_connections",
			"Number of established connections", labels, nil),
		inUseConns: prometheus.NewDesc("db_pool_in_use_connections",
			"Number of connections currently in use", labels, nil),
		idleConns: prometheus.NewDesc("db_pool_idle_connections",
			"Number of idle connections", labels, nil),
		waitCount: prometheus.NewDesc("db_pool_wait_count_total",
			"Total number of connections waited for", labels, nil),
		waitDuration: prometheus.NewDesc("db_pool_wait_duration_seconds_total",
			"Total time blocked waiting for a connection", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *DBStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openConns
	ch <- c.inUseConns
	ch <- c.idleConns
	ch <- c.waitCount
	ch <- c.waitDuration
}

// Collect implements prometheus.Collector.
func (c *DBStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.db.Stats()
	ch <- prometheus.MustNewConstMetric(c.openConns, prometheus.GaugeValue, float64(s.OpenConnections), c.service)
	ch <- prometheus.MustNewConstMetric(c.inUseConns, prometheus.GaugeValue, float64(s.InUse), c.service)
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(s.Idle), c.service)
	ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(s.WaitCount), c.service)
	ch <- prometheus.MustNewConstMetric(c.waitDuration, prometheus.CounterValue, s.WaitDuration.Seconds(), c.service)
}

// RegisterDBMetrics registers a DBStatsCollector with reg, ignoring
// duplicate registration.
func RegisterDBMetrics(reg prometheus.Registerer, db *sql.DB, service string) {
	if err := reg.Register(NewDBStatsCollector(db, service)); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			panic(err)
		}
	}
}
