package router

import (
	"fmt"
	"math"
	"net/url"

	"github.com/fmedlin/touchdb/internal/storage"
	"github.com/fmedlin/touchdb/pkg/model"
)

const maxUUIDs = 1000

func handleGetRoot(c *call) Status {
	c.resp.Body = map[string]interface{}{
		"couchdb": "Welcome",
		"TouchDB": "Welcome",
		"version": c.router.version,
	}
	return StatusOK
}

func handleGetAllDBs(c *call) Status {
	names := c.router.server.AllDatabaseNames()
	if names == nil {
		names = []string{}
	}
	c.resp.Body = names
	return StatusOK
}

func handleGetUUIDs(c *call) Status {
	count := c.intQuery("count", 1)
	if count < 0 {
		count = 0
	}
	if count > maxUUIDs {
		count = maxUUIDs
	}
	uuids := make([]string, count)
	for i := range uuids {
		uuids[i] = model.GenerateDocumentID()
	}
	c.resp.Body = map[string]interface{}{"uuids": uuids}
	return StatusOK
}

func handleGetActiveTasks(c *call) Status {
	tasks := []interface{}{}
	if c.router.replicator == nil {
		c.resp.Body = tasks
		return StatusOK
	}
	for _, db := range c.router.server.AllOpenDatabases() {
		for _, repl := range c.router.replicator.ActiveReplicators(db) {
			source, target := repl.Remote().String(), db.Name()
			if repl.IsPush() {
				source, target = target, source
			}
			processed, total := repl.ChangesProcessed(), repl.ChangesTotal()
			progress := 0
			if total > 0 {
				progress = int(math.Round(100 * float64(processed) / float64(total)))
			}
			tasks = append(tasks, map[string]interface{}{
				"type":     "Replication",
				"task":     repl.SessionID(),
				"source":   source,
				"target":   target,
				"status":   fmt.Sprintf("Processed %d / %d changes", processed, total),
				"progress": progress,
			})
		}
	}
	c.resp.Body = tasks
	return StatusOK
}

func handlePostReplicate(c *call) Status {
	if c.router.replicator == nil {
		return StatusNotFound
	}
	body, ok := c.jsonBody()
	if !ok {
		return StatusBadRequest
	}
	source, _ := body["source"].(string)
	target, _ := body["target"].(string)
	createTarget, _ := body["create_target"].(bool)
	continuous, _ := body["continuous"].(bool)
	cancel, _ := body["cancel"].(bool)
	if source == "" || target == "" {
		return StatusBadRequest
	}

	// The local end of a replication is named by a bare database name.
	var (
		db        storage.Database
		remoteStr string
		push      bool
		err       error
	)
	if local, lerr := c.router.server.ExistingDatabaseNamed(source); lerr == nil {
		db, remoteStr, push = local, target, true
	} else {
		remoteStr = source
		if createTarget && !cancel {
			db, err = c.router.server.DatabaseNamed(target)
			if err != nil {
				return StatusNotFound
			}
			if err := db.Open(); err != nil {
				return StatusInternalError
			}
		} else if db, err = c.router.server.ExistingDatabaseNamed(target); err != nil {
			return StatusNotFound
		}
	}

	remote, err := url.Parse(remoteStr)
	if err != nil || remote.Host == "" || !c.router.replicator.SupportsScheme(remote.Scheme) {
		return StatusBadRequest
	}

	if cancel {
		repl := c.router.replicator.ActiveReplicator(db, remote, push)
		if repl == nil {
			return StatusNotFound
		}
		repl.Stop()
		return StatusOK
	}

	repl, err := c.router.replicator.Replicator(db, remote, push, continuous)
	if err != nil {
		c.router.logger.Error("Failed to create replicator", "db", db.Name(), "remote", remote.Redacted(), "error", err)
		return StatusInternalError
	}
	if filter, _ := body["filter"].(string); filter != "" {
		params := map[string]string{}
		if qp, ok := body["query_params"].(map[string]interface{}); ok {
			for k, v := range qp {
				params[k] = fmt.Sprint(v)
			}
		}
		repl.SetFilter(filter, params)
	}
	if push {
		repl.SetCreateTarget(createTarget)
	}
	if err := repl.Start(); err != nil {
		return statusFromError(err)
	}
	c.resp.Body = map[string]interface{}{"ok": true, "session_id": repl.SessionID()}
	return StatusOK
}
