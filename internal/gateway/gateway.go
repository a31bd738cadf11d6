// Package gateway is the request boundary: it parses subject-addressed
// JSON requests, dispatches them to the engine, and renders structured
// JSON responses. Every response carries a success flag; failures
// carry a stable machine-readable code so callers never parse backend
// error text.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/stratumdb/stratum/internal/backup"
	"github.com/stratumdb/stratum/internal/compile"
	"github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/internal/migrate"
	"github.com/stratumdb/stratum/internal/registry"
	"github.com/stratumdb/stratum/internal/rows"
	"github.com/stratumdb/stratum/pkg/types"
)

// DefaultRequestTimeout bounds a single request when the config does
// not override it.
const DefaultRequestTimeout = 30 * time.Second

// Gateway routes requests addressed as {operation}.{namespace}.
type Gateway struct {
	registry *registry.Registry
	executor *rows.Executor
	migrator *migrate.Engine
	backup   *backup.Backup
	timeout  time.Duration
}

// New creates a gateway. backup may be nil when backups are disabled;
// timeout <= 0 selects DefaultRequestTimeout.
func New(reg *registry.Registry, exec *rows.Executor, migrator *migrate.Engine, bak *backup.Backup, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Gateway{
		registry: reg,
		executor: exec,
		migrator: migrator,
		backup:   bak,
		timeout:  timeout,
	}
}

// Handle processes one request and always returns a JSON response
// body, never an error: failures are encoded in the envelope.
func (g *Gateway) Handle(ctx context.Context, subject string, payload []byte) []byte {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	operation, namespace, err := splitSubject(subject)
	if err != nil {
		return fail(err)
	}

	result, err := g.dispatch(ctx, operation, namespace, payload)
	if err != nil {
		return fail(err)
	}
	return ok(result)
}

func splitSubject(subject string) (operation, namespace string, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 2 {
		return "", "", errors.NewValidationError(
			"subject must be {operation}.{namespace}")
	}
	operation, namespace = parts[0], parts[1]
	if !types.ValidIdentifier(namespace) {
		return "", "", errors.NewValidationError("invalid namespace: " + namespace)
	}
	return operation, namespace, nil
}

func (g *Gateway) dispatch(ctx context.Context, operation, namespace string, payload []byte) (map[string]any, error) {
	switch operation {
	case "schema":
		return g.handleSchema(ctx, namespace, payload)
	case "insert":
		return g.handleInsert(ctx, namespace, payload)
	case "select":
		return g.handleSelect(ctx, namespace, payload)
	case "update":
		return g.handleUpdate(ctx, namespace, payload)
	case "delete":
		return g.handleDelete(ctx, namespace, payload)
	case "search":
		return g.handleSearch(ctx, namespace, payload)
	case "apply":
		return g.handleApply(ctx, namespace, payload)
	case "rollback":
		return g.handleRollback(ctx, namespace, payload)
	case "status":
		return g.handleStatus(ctx, namespace)
	case "backup":
		return g.handleBackup(ctx, namespace)
	default:
		return nil, errors.NewValidationError("unknown operation: " + operation)
	}
}

func (g *Gateway) handleSchema(ctx context.Context, namespace string, payload []byte) (map[string]any, error) {
	var req schemaRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	defs, err := req.fieldDefs()
	if err != nil {
		return nil, err
	}
	if err := g.registry.Register(ctx, namespace, req.Table, defs); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (g *Gateway) handleInsert(ctx context.Context, namespace string, payload []byte) (map[string]any, error) {
	var req insertRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	data, isBatch, err := req.rows()
	if err != nil {
		return nil, err
	}

	ids, err := g.executor.Insert(ctx, namespace, req.Table, data)
	if err != nil {
		return nil, err
	}
	if isBatch {
		return map[string]any{"ids": ids, "created": len(ids)}, nil
	}
	return map[string]any{"id": ids[0]}, nil
}

func (g *Gateway) handleSelect(ctx context.Context, namespace string, payload []byte) (map[string]any, error) {
	var req selectRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	row, exists, err := g.executor.Select(ctx, namespace, req.Table, *req.ID)
	if err != nil {
		return nil, err
	}
	resp := map[string]any{"exists": exists}
	if exists {
		resp["data"] = row
	}
	return resp, nil
}

func (g *Gateway) handleUpdate(ctx context.Context, namespace string, payload []byte) (map[string]any, error) {
	var req updateRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	filter, err := compile.ParseFilter(req.Filters)
	if err != nil {
		return nil, err
	}
	ops, err := compile.ParseUpdate(req.Operations)
	if err != nil {
		return nil, err
	}

	updated, err := g.executor.Update(ctx, namespace, req.Table, req.ID, filter, ops)
	if err != nil {
		return nil, err
	}
	return map[string]any{"updated": updated}, nil
}

func (g *Gateway) handleDelete(ctx context.Context, namespace string, payload []byte) (map[string]any, error) {
	var req deleteRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	filter, err := compile.ParseFilter(req.Filters)
	if err != nil {
		return nil, err
	}

	deleted, err := g.executor.Delete(ctx, namespace, req.Table, req.ID, filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": deleted}, nil
}

func (g *Gateway) handleSearch(ctx context.Context, namespace string, payload []byte) (map[string]any, error) {
	var req searchRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	filter, err := compile.ParseFilter(req.Filters)
	if err != nil {
		return nil, err
	}
	aggregates, err := compile.ParseAggregates(req.Aggregates)
	if err != nil {
		return nil, err
	}

	result, err := g.executor.Search(ctx, namespace, req.Table, rows.SearchParams{
		Filter:     filter,
		Sort:       req.Sort,
		Limit:      req.Limit,
		Offset:     req.Offset,
		Aggregates: aggregates,
	})
	if err != nil {
		return nil, err
	}

	resp := map[string]any{
		"rows":      result.Rows,
		"count":     result.Count,
		"truncated": result.Truncated,
	}
	if len(result.Aggregates) > 0 {
		resp["aggregates"] = result.Aggregates
	}
	return resp, nil
}

func (g *Gateway) handleApply(ctx context.Context, namespace string, payload []byte) (map[string]any, error) {
	var req applyRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Version < 0 {
		return nil, errors.NewValidationError("version cannot be negative")
	}

	result, err := g.migrator.Apply(ctx, namespace, req.Version, req.DryRun)
	if err != nil {
		return nil, err
	}
	resp := map[string]any{"applied": result.Applied}
	if len(result.Warnings) > 0 {
		resp["warnings"] = result.Warnings
	}
	if result.DryRun {
		resp["dry_run"] = true
	}
	return resp, nil
}

func (g *Gateway) handleRollback(ctx context.Context, namespace string, payload []byte) (map[string]any, error) {
	var req rollbackRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}

	var target int
	if req.Version != nil {
		target = *req.Version
	} else {
		// No version rolls back the most recent migration.
		status, err := g.migrator.Status(ctx, namespace)
		if err != nil {
			return nil, err
		}
		if status.CurrentVersion == 0 {
			return map[string]any{"rolled_back": []int{}}, nil
		}
		target = status.CurrentVersion - 1
	}

	result, err := g.migrator.Rollback(ctx, namespace, target, req.DryRun)
	if err != nil {
		return nil, err
	}
	resp := map[string]any{"rolled_back": result.RolledBack}
	if result.DryRun {
		resp["dry_run"] = true
	}
	return resp, nil
}

func (g *Gateway) handleStatus(ctx context.Context, namespace string) (map[string]any, error) {
	status, err := g.migrator.Status(ctx, namespace)
	if err != nil {
		return nil, err
	}
	tables, err := g.registry.List(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if tables == nil {
		tables = []string{}
	}
	resp := map[string]any{
		"current_version":    status.CurrentVersion,
		"pending_migrations": status.Pending,
		"applied_migrations": status.Applied,
		"tables":             tables,
	}
	if len(status.Discrepancies) > 0 {
		resp["checksum_discrepancies"] = status.Discrepancies
	}
	return resp, nil
}

func (g *Gateway) handleBackup(ctx context.Context, namespace string) (map[string]any, error) {
	if g.backup == nil {
		return nil, errors.NewValidationError("backups are not enabled")
	}
	manifest, err := g.backup.Run(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return map[string]any{"manifest": manifest}, nil
}

func decode(payload []byte, req any) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, req); err != nil {
		return errors.New(errors.ErrCategoryValidation, errors.CodeInvalidJSON,
			"request body is not valid JSON")
	}
	return nil
}

func ok(fields map[string]any) []byte {
	resp := map[string]any{"success": true}
	for k, v := range fields {
		resp[k] = v
	}
	return marshal(resp)
}

func fail(err error) []byte {
	return marshal(map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    wireCode(err),
			"message": errors.GetMessage(err),
		},
	})
}

// wireCode maps internal codes onto the stable wire vocabulary.
func wireCode(err error) string {
	code := errors.GetCode(err)
	switch code {
	case errors.CodeInvalidJSON, errors.CodeMissingField, errors.CodeValidationError,
		errors.CodeNotRegistered, errors.CodeDatabaseError, errors.CodeLockTimeout,
		errors.CodeChecksumMismatch, errors.CodeInternalError:
		return code
	default:
		return errors.CodeInternalError
	}
}

func marshal(resp map[string]any) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		// A response map of plain values cannot fail to marshal; if it
		// somehow does, return a hand-built envelope.
		log.Printf("gateway: failed to marshal response: %v", err)
		return []byte(`{"success":false,"error":{"code":"INTERNAL_ERROR","message":"failed to encode response"}}`)
	}
	return data
}
