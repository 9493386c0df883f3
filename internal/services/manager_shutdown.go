package services

import (
	"context"
)

func (m *Manager) Shutdown(ctx context.Context) {
	for i, srv := range m.servers {
		m.logger.Info("Stopping server", "name", m.serverNames[i])
		if err := srv.Shutdown(ctx); err != nil {
			m.logger.Error("Error shutting down server", "name", m.serverNames[i], "error", err)
		}
	}

	if m.cancel != nil {
		m.cancel()
	}

	if m.replicator != nil {
		m.logger.Info("Stopping replications...")
		if err := m.replicator.Close(ctx); err != nil {
			m.logger.Warn("Replications did not stop in time", "error", err)
		}
	}

	// Wait for background tasks (change forwarder)
	m.logger.Info("Waiting for background tasks to finish...")
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Background tasks finished.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for background tasks.")
	}

	if m.natsConn != nil {
		m.logger.Info("Closing NATS connection...")
		m.natsConn.Close()
	}

	if m.storage != nil {
		if err := m.storage.Close(); err != nil {
			m.logger.Error("Error closing storage", "error", err)
		}
	}
}
