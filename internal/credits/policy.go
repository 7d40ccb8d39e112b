package credits

import "github.com/illegalcall/ai-credits/internal/models"

// Service is a paid operation and its fixed price in credits.
type Service struct {
	Name string
	Cost int
}

var (
	TextToImage       = Service{Name: "Text to Image", Cost: 2}
	BackgroundRemoval = Service{Name: "Background Remover", Cost: 1}
	ResumeAnalysis    = Service{Name: "Resume Analyzer", Cost: 1}
)

// Policy decides how a charge is applied to a profile. It has exactly two
// variants: Metered and Unmetered.
type Policy interface {
	isPolicy()
	String() string
}

// Metered debits Cost credits from the balance.
type Metered struct {
	Cost int
}

// Unmetered lets the operation through without touching the balance.
type Unmetered struct{}

func (Metered) isPolicy()   {}
func (Unmetered) isPolicy() {}

func (Metered) String() string   { return "metered" }
func (Unmetered) String() string { return "unmetered" }

// PolicyFor resolves the policy once per request from the profile's role.
func PolicyFor(profile *models.Profile, cost int) Policy {
	if profile.IsAdmin() {
		return Unmetered{}
	}
	return Metered{Cost: cost}
}

// AdminUsage controls whether unmetered use leaves a trace in the transaction log.
type AdminUsage int

const (
	// AdminUsageUntracked records nothing for admins.
	AdminUsageUntracked AdminUsage = iota
	// AdminUsageRecorded appends a zero-credit transaction for admin use.
	AdminUsageRecorded
)
