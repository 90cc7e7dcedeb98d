// Package observability defines the prometheus metrics exported by the
// pipeline stages.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesScraped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warehouse_messages_scraped_total",
		Help: "The total number of messages fetched from Telegram channels",
	}, []string{"channel"})

	ImagesDownloaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warehouse_images_downloaded_total",
		Help: "The total number of message images downloaded",
	}, []string{"channel"})

	ChannelFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warehouse_channel_fetch_errors_total",
		Help: "The total number of failed channel fetches",
	}, []string{"channel"})

	ImagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warehouse_images_processed_total",
		Help: "The total number of images run through the detection engine",
	}, []string{"status"})

	RowsLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warehouse_rows_loaded_total",
		Help: "The total number of rows newly inserted into the warehouse",
	}, []string{"table"})

	StageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warehouse_stage_duration_seconds",
		Help:    "Duration of each pipeline stage",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})
)
