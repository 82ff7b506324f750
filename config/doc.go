// Package config loads the telemetry engine configuration with Viper.
//
// Every key is optional and lives under the "telemetry" root, for example:
//
//	telemetry:
//	  enabled: true
//	  collector:
//	    queue_size: 10000
//	    flush_interval: 200ms
//	    persist_interval: 5s
//	  data:
//	    driver: sqlite
//	    source: /var/lib/forwarder/telemetry.db
//	    retention_days: 30
//	  alert:
//	    suppression_window: 5m
//	    max_alerts_per_window: 10
//	    dedup_window: 10m
//	    channels:
//	      chat:
//	        enabled: true
//	        token: "123:abc"
//	        chat_id: "-1001"
//
// Environment variables override file values; dots become underscores, so
// TELEMETRY_ALERT_DEDUP_WINDOW=1m overrides telemetry.alert.dedup_window.
//
// Watch reloads the file on change and hands the new Config to a callback,
// which the engine uses to swap its alert policy without a restart.
package config
