// Package topology projects automation rules and the devices they touch
// into a neo4j graph, so the diagnostic workflow can walk from a
// misbehaving device to the automations wired to it.
package topology

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/devices"
	"github.com/smarthome-agent/backend/pkg/circuitbreaker"
	"github.com/smarthome-agent/backend/pkg/logger"
	"github.com/smarthome-agent/backend/pkg/retry"
)

// RuleRef is an automation rule as stored in the graph, with the edges it
// has to a particular device resolved into role flags by RulesForDevice.
type RuleRef struct {
	RuleID           string
	RuleName         string
	Status           string
	TriggerDeviceIDs []string
	ActionDeviceIDs  []string
	LastExecuted     *time.Time
}

// Graph is the neo4j-backed rule/device topology. Writes are idempotent
// MERGEs; reads go through the circuit breaker with retries.
type Graph struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewGraph(uri, username, password, database string) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Topology graph initialized", zap.String("uri", uri))

	return &Graph{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return g.cb.Execute(ctx, func() error {
		return retry.Do(ctx, g.retryConfig, func() error {
			session := g.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: g.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// SyncRules projects the given rules into the graph. Existing rule and
// device nodes are updated in place; edges for device references the rule
// no longer makes are removed. Safe to run on every rule refresh.
func (g *Graph) SyncRules(ctx context.Context, rules []devices.Rule) error {
	err := g.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		for _, rule := range rules {
			var lastExecuted int64
			if rule.LastExecuted != nil {
				lastExecuted = rule.LastExecuted.UnixMilli()
			}

			query := `
				MERGE (r:Rule {id: $rule_id})
				SET r.name = $name,
				    r.status = $status,
				    r.last_executed = $last_executed,
				    r.updated_at = timestamp()
				WITH r
				OPTIONAL MATCH (r)-[e:TRIGGERS|CONTROLS]->(:Device)
				DELETE e
				WITH DISTINCT r
				UNWIND $trigger_ids AS tid
				MERGE (t:Device {id: tid})
				MERGE (r)-[:TRIGGERS]->(t)
				WITH DISTINCT r
				UNWIND $action_ids AS aid
				MERGE (a:Device {id: aid})
				MERGE (r)-[:CONTROLS]->(a)
			`

			_, err := session.Run(ctx, query, map[string]interface{}{
				"rule_id":       rule.ID,
				"name":          rule.Name,
				"status":        rule.Status,
				"last_executed": lastExecuted,
				"trigger_ids":   rule.TriggerDeviceIDs,
				"action_ids":    rule.ActionDeviceIDs,
			})
			if err != nil {
				return fmt.Errorf("failed to sync rule %s: %w", rule.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Automation rules synced to topology graph", zap.Int("rules", len(rules)))
	return nil
}

// RulesForDevice returns every rule with a TRIGGERS or CONTROLS edge to the
// device, with the full trigger and action device sets per rule.
func (g *Graph) RulesForDevice(ctx context.Context, deviceID string) ([]RuleRef, error) {
	var refs []RuleRef

	err := g.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (r:Rule)-[:TRIGGERS|CONTROLS]->(d:Device {id: $device_id})
			WITH DISTINCT r
			OPTIONAL MATCH (r)-[:TRIGGERS]->(t:Device)
			WITH r, collect(DISTINCT t.id) AS trigger_ids
			OPTIONAL MATCH (r)-[:CONTROLS]->(a:Device)
			RETURN r.id AS rule_id, r.name AS rule_name, r.status AS status,
			       r.last_executed AS last_executed,
			       trigger_ids, collect(DISTINCT a.id) AS action_ids
			ORDER BY r.name
		`

		result, err := session.Run(ctx, query, map[string]interface{}{
			"device_id": deviceID,
		})
		if err != nil {
			return fmt.Errorf("failed to query rules for device: %w", err)
		}

		refs = refs[:0]
		for result.Next(ctx) {
			record := result.Record()

			ruleID, _ := record.Get("rule_id")
			ruleName, _ := record.Get("rule_name")
			status, _ := record.Get("status")
			lastExecuted, _ := record.Get("last_executed")
			triggerIDs, _ := record.Get("trigger_ids")
			actionIDs, _ := record.Get("action_ids")

			ref := RuleRef{
				RuleID:           asString(ruleID),
				RuleName:         asString(ruleName),
				Status:           asString(status),
				TriggerDeviceIDs: asStringSlice(triggerIDs),
				ActionDeviceIDs:  asStringSlice(actionIDs),
			}
			if millis, ok := lastExecuted.(int64); ok && millis > 0 {
				t := time.UnixMilli(millis)
				ref.LastExecuted = &t
			}
			refs = append(refs, ref)
		}
		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Topology lookup completed",
		zap.String("device_id", deviceID),
		zap.Int("rules_found", len(refs)),
	)
	return refs, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asStringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
