// Package graph reasons about blast-radius consequence severity over the
// asset/zone dependency graph in Neo4j, degrading to a static fallback
// table when the graph is unavailable rather than blocking detection.
package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// ConsequenceSeverity is the platform's four-level blast-radius severity
// scale, ordered least to most severe.
type ConsequenceSeverity string

const (
	SeverityLow      ConsequenceSeverity = "LOW"
	SeverityMedium   ConsequenceSeverity = "MEDIUM"
	SeverityHigh     ConsequenceSeverity = "HIGH"
	SeverityCritical ConsequenceSeverity = "CRITICAL"
)

// zoneConsequenceFallback is consulted when the graph cannot be reached:
// a static, conservative mapping from zone class to severity.
var zoneConsequenceFallback = map[string]ConsequenceSeverity{
	"safety_life": SeverityCritical,
	"equipment":   SeverityHigh,
	"downtime":    SeverityMedium,
	"data_loss":   SeverityLow,
}

// consequenceQuery walks from a finding's directly affected asset to
// every downstream asset reachable via shared model deployments, and
// reports the most severe zone consequence class among them.
const consequenceQuery = `
MATCH (f:Finding {id: $finding_id})-[:AFFECTS]->(a:Asset)
OPTIONAL MATCH (a)<-[:DEPLOYS_TO]-(m:Model)-[:DEPLOYS_TO]->(downstream:Asset)-[:RESIDES_IN]->(z:Zone)
WITH f, a, collect(DISTINCT z.consequence_class) AS reachable_consequences
RETURN a.name AS directly_affected_asset, reachable_consequences
`

// Result is the outcome of a consequence-severity lookup.
type Result struct {
	FindingID             string
	DirectlyAffectedAsset string
	ReachableConsequences []string
	Severity              ConsequenceSeverity
	Degraded              bool
}

func mapConsequenceSeverity(consequences []string) ConsequenceSeverity {
	has := func(class string) bool {
		for _, c := range consequences {
			if c == class {
				return true
			}
		}
		return false
	}
	switch {
	case has("safety_life"):
		return SeverityCritical
	case has("equipment"):
		return SeverityHigh
	case has("downtime"):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Client wraps a neo4j.DriverWithContext for consequence-severity
// queries, falling back to a static table on any driver error.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// New constructs a Client over an already-connected driver.
func New(driver neo4j.DriverWithContext, database string, logger *zap.Logger) *Client {
	return &Client{driver: driver, database: database, logger: logger}
}

// GetConsequenceSeverity traverses the asset/zone graph from findingID to
// compute the worst-case consequence severity. zoneClassHint is used by
// the static fallback when the graph query itself fails.
func (c *Client) GetConsequenceSeverity(ctx context.Context, findingID, zoneClassHint string) Result {
	records, err := neo4j.ExecuteQuery(ctx, c.driver, consequenceQuery,
		map[string]interface{}{"finding_id": findingID},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database),
	)
	if err != nil {
		c.logger.Warn("consequence graph query failed, using static fallback",
			zap.String("finding_id", findingID), zap.Error(err))
		return Result{
			FindingID: findingID,
			Severity:  fallbackConsequence(zoneClassHint),
			Degraded:  true,
		}
	}

	if len(records.Records) == 0 {
		return Result{FindingID: findingID, Severity: fallbackConsequence(zoneClassHint), Degraded: true}
	}

	rec := records.Records[0]
	asset, _ := rec.Get("directly_affected_asset")
	rawConsequences, _ := rec.Get("reachable_consequences")

	var consequences []string
	if list, ok := rawConsequences.([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				consequences = append(consequences, s)
			}
		}
	}

	assetName, _ := asset.(string)
	return Result{
		FindingID:             findingID,
		DirectlyAffectedAsset: assetName,
		ReachableConsequences: consequences,
		Severity:              mapConsequenceSeverity(consequences),
	}
}

func fallbackConsequence(zoneClass string) ConsequenceSeverity {
	if severity, ok := zoneConsequenceFallback[zoneClass]; ok {
		return severity
	}
	return SeverityLow
}
