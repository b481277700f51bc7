package specialist

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/arbiterhq/arbiter/pkg/model"
)

// DemoAnalysis synthesizes a plausible claims-history analysis when no
// data source is reachable. The dataset is seeded by the claimant id, so
// repeated calls for the same claimant produce identical output.
func DemoAnalysis(claim model.Claim) string {
	subject := analysisSubject(claim)
	rng := rand.New(rand.NewSource(demoSeed(subject)))

	years := 3
	totalClaims := 0
	totalAmount := 0.0
	flagged := 0

	var table strings.Builder
	table.WriteString("| claim_year | claims | avg_amount | fraud_flagged |\n")
	table.WriteString("| --- | --- | --- | --- |\n")
	for i := 0; i < years; i++ {
		year := 2022 + i
		claims := 1 + rng.Intn(4)
		avg := 2500 + rng.Float64()*12500
		fraud := 0
		if rng.Intn(5) == 0 {
			fraud = 1
		}
		totalClaims += claims
		totalAmount += avg * float64(claims)
		flagged += fraud
		fmt.Fprintf(&table, "| %d | %d | %.2f | %d |\n", year, claims, avg, fraud)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Claims Data Analysis for %s\n\n", subject)
	b.WriteString(table.String())
	fmt.Fprintf(&b, "\nSummary:\n")
	fmt.Fprintf(&b, "- Prior claims on record: %d\n", totalClaims)
	fmt.Fprintf(&b, "- Average historical claim amount: $%.2f\n", totalAmount/float64(totalClaims))
	fmt.Fprintf(&b, "- Claims flagged for fraud review: %d\n", flagged)
	b.WriteString("\nNote: live claims data was unreachable; figures above are representative sample data.")
	return b.String()
}

func demoSeed(subject string) int64 {
	h := fnv.New64a()
	h.Write([]byte(subject))
	return int64(h.Sum64())
}
