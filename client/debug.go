package client

import (
	"encoding/json"
	"fmt"
)

// EnableDebugMode makes batches created from now on log errors with their full
// debug formatting, including cause chains and stack traces.
func (c *Client) EnableDebugMode() {
	c.debugMode.Store(true)
	c.logger.Info("debug mode enabled")
}

// DisableDebugMode disables debug mode.
func (c *Client) DisableDebugMode() {
	c.debugMode.Store(false)
	c.logger.Info("debug mode disabled")
}

// IsDebugMode returns whether debug mode is currently enabled.
func (c *Client) IsDebugMode() bool {
	return c.debugMode.Load()
}

// GetDebugInfo returns a snapshot of client state for debugging.
func (c *Client) GetDebugInfo() map[string]interface{} {
	info := map[string]interface{}{
		"version":   Version,
		"address":   c.opts.Address,
		"debugMode": c.IsDebugMode(),
		"hooks":     c.GetHooks(),
	}

	if stats := c.Stats(); stats != nil {
		info["pool"] = map[string]interface{}{
			"activeConnections": stats.ActiveConnections.Load(),
			"idleConnections":   stats.IdleConnections.Load(),
			"totalConnections":  stats.TotalConnections.Load(),
			"waitCount":         stats.WaitCount.Load(),
			"waitDuration":      stats.WaitDuration.Load(),
			"hits":              stats.Hits.Load(),
			"misses":            stats.Misses.Load(),
			"timeouts":          stats.Timeouts.Load(),
			"errors":            stats.Errors.Load(),
			"poisoned":          stats.Poisoned.Load(),
		}
	} else {
		info["pool"] = nil
	}

	info["options"] = map[string]interface{}{
		"dialTimeout":         c.opts.DialTimeout.String(),
		"readTimeout":         c.opts.ReadTimeout.String(),
		"writeTimeout":        c.opts.WriteTimeout.String(),
		"poolMinSize":         c.opts.PoolMinSize,
		"poolMaxSize":         c.opts.PoolMaxSize,
		"poolIdleTimeout":     c.opts.PoolIdleTimeout.String(),
		"healthCheckInterval": c.opts.HealthCheckInterval.String(),
		"tlsEnabled":          c.opts.TLSEnabled,
	}

	return info
}

// DumpDebugInfoJSON returns debug info as formatted JSON string.
func (c *Client) DumpDebugInfoJSON() string {
	info := c.GetDebugInfo()
	bytes, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal debug info: %s"}`, err.Error())
	}
	return string(bytes)
}
