package specialist

import "strings"

// softFailurePhrases are the connectivity complaints a remote data agent
// emits when it cannot reach its backing dataset. Matching is a casefolded
// substring test; any hit routes the analytics adapter to the local
// fallback pipeline instead of returning the apology to the supervisor.
var softFailurePhrases = []string{
	"technical difficulties",
	"technical issue",
	"connectivity issue",
	"unable to retrieve",
	"data service issue",
	"encountered an issue",
	"failure connecting",
	"issue retrieving",
	"cannot query",
	"unable to query",
	"error accessing",
	"will retry",
	"please advise",
	"alternate access",
	"made an error",
	"apologize",
	"i apologize",
	"issue accessing",
	"having trouble",
	"trouble accessing",
	"cannot access",
	"unable to access",
	"failed to access",
	"could not access",
	"could not retrieve",
	"failed to retrieve",
	"unable to connect",
	"failed to connect",
	"no data available",
	"encountered a technical",
	"unable to directly",
	"was unable to",
	"let me retry",
	"ensure connection",
	"once accessible",
}

// DetectSoftFailure returns the first soft-failure phrase contained in
// text, or the empty string when the response looks like real data.
func DetectSoftFailure(text string) string {
	lowered := strings.ToLower(text)
	for _, phrase := range softFailurePhrases {
		if strings.Contains(lowered, phrase) {
			return phrase
		}
	}
	return ""
}
