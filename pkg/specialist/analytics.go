package specialist

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/arbiterhq/arbiter/pkg/fabric"
	"github.com/arbiterhq/arbiter/pkg/logger"
	"github.com/arbiterhq/arbiter/pkg/model"
)

// QueryHeader prefixes every data-analytics response so consumers can see
// what was asked of the data agent.
const QueryHeader = "**📊 Fabric Query:** "

// querySeparator sits between the annotated query and the content.
const querySeparator = "\n\n---\n\n"

// QueryKind classifies the analytical question derived from a claim.
type QueryKind string

const (
	QueryCollisionFraud QueryKind = "collision_fraud"
	QueryPropertyDamage QueryKind = "property_damage"
	QueryFireIndicators QueryKind = "fire_indicators"
	QueryTheftFraudRate QueryKind = "theft_fraud_rate"
	QueryGeneric        QueryKind = "generic"
)

// ClassifyClaim derives the natural-language query for the data-analytics
// specialist from the claim. The classifier is a fixed keyword match on
// the lowercased claim type; queries stay single-clause because the remote
// data agent fails on composite questions.
func ClassifyClaim(claim model.Claim) (QueryKind, string) {
	state := claim.State
	if state == "" {
		state = "all states"
	}

	claimType := strings.ToLower(claim.ClaimType)
	switch {
	case strings.Contains(claimType, "collision"):
		return QueryCollisionFraud, fmt.Sprintf("Show historical fraud patterns for collision claims in %s", state)
	case strings.Contains(claimType, "property"):
		return QueryPropertyDamage, fmt.Sprintf("Show average property damage claim amounts in %s", state)
	case strings.Contains(claimType, "fire"):
		return QueryFireIndicators, fmt.Sprintf("Show fire damage claim indicators in %s", state)
	case strings.Contains(claimType, "theft"):
		return QueryTheftFraudRate, fmt.Sprintf("Show the theft claim fraud rate in %s", state)
	case claimType == "":
		return QueryGeneric, fmt.Sprintf("Show overall claim statistics in %s", state)
	default:
		return QueryGeneric, fmt.Sprintf("Show claim statistics for %s claims in %s", strings.ToLower(claim.ClaimType), state)
	}
}

// AnnotateQuery prepends the query header and separator to content.
func AnnotateQuery(query, content string) string {
	return QueryHeader + query + querySeparator + content
}

// Fallback produces analytics content locally when the remote data agent
// soft-fails: first a direct SQL query against the secondary data source,
// then a deterministic demo dataset when no source is configured or the
// query returns nothing.
type Fallback struct {
	source fabric.Source
	logger *slog.Logger
}

// NewFallback builds a fallback pipeline. A nil source skips straight to
// demo data.
func NewFallback(source fabric.Source, log *slog.Logger) *Fallback {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Fallback{source: source, logger: log}
}

// Content returns the fallback analysis for a claim.
func (f *Fallback) Content(ctx context.Context, claim model.Claim, kind QueryKind) string {
	if f.source != nil {
		rows, err := f.source.Query(ctx, fallbackSQL(kind, claim))
		switch {
		case err != nil:
			f.logger.Warn("Fallback SQL query failed, synthesizing demo data",
				"claim_id", claim.ClaimID,
				"kind", string(kind),
				"error", err)
		case len(rows) == 0:
			f.logger.Debug("Fallback SQL query returned no rows, synthesizing demo data",
				"claim_id", claim.ClaimID,
				"kind", string(kind))
		default:
			return renderAnalysis(claim, rows)
		}
	}
	return DemoAnalysis(claim)
}

// fallbackSQL builds the direct query for one classification over the
// claims_history table of the secondary source.
func fallbackSQL(kind QueryKind, claim model.Claim) string {
	state := sqlLiteral(claim.State)
	switch kind {
	case QueryCollisionFraud:
		return fmt.Sprintf(
			"SELECT claim_year, COUNT(*) AS claims, SUM(fraud_flag) AS fraud_flagged FROM claims_history WHERE claim_type LIKE '%%collision%%' AND state = '%s' GROUP BY claim_year ORDER BY claim_year",
			state)
	case QueryPropertyDamage:
		return fmt.Sprintf(
			"SELECT claim_year, COUNT(*) AS claims, AVG(claim_amount) AS avg_amount FROM claims_history WHERE claim_type LIKE '%%property%%' AND state = '%s' GROUP BY claim_year ORDER BY claim_year",
			state)
	case QueryFireIndicators:
		return fmt.Sprintf(
			"SELECT claim_year, COUNT(*) AS claims, AVG(claim_amount) AS avg_amount, SUM(fraud_flag) AS fraud_flagged FROM claims_history WHERE claim_type LIKE '%%fire%%' AND state = '%s' GROUP BY claim_year ORDER BY claim_year",
			state)
	case QueryTheftFraudRate:
		return fmt.Sprintf(
			"SELECT claim_year, COUNT(*) AS claims, SUM(fraud_flag) AS fraud_flagged FROM claims_history WHERE claim_type LIKE '%%theft%%' AND state = '%s' GROUP BY claim_year ORDER BY claim_year",
			state)
	default:
		return fmt.Sprintf(
			"SELECT claim_type, COUNT(*) AS claims, AVG(claim_amount) AS avg_amount FROM claims_history WHERE state = '%s' GROUP BY claim_type ORDER BY claims DESC",
			state)
	}
}

// sqlLiteral strips everything outside [A-Za-z0-9 _-] so claim fields can
// be embedded in the fallback query. The secondary source exposes a raw
// query interface with no parameter binding.
func sqlLiteral(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == ' ', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// renderAnalysis formats query rows as the standard analysis block: the
// heading, then a markdown table with columns in sorted key order.
func renderAnalysis(claim model.Claim, rows []map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claims Data Analysis for %s\n\n", analysisSubject(claim))

	cols := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	b.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, col := range cols {
			cells[i] = formatCell(row[col])
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	fmt.Fprintf(&b, "\n%d row(s) from the claims history store.", len(rows))
	return b.String()
}

func formatCell(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%.2f", n)
	case float32:
		return fmt.Sprintf("%.2f", n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// analysisSubject names the analysis: the claimant when known, otherwise
// the claim itself.
func analysisSubject(claim model.Claim) string {
	if claim.ClaimantID != "" {
		return claim.ClaimantID
	}
	return claim.ClaimID
}
