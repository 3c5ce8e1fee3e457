package policy

// Per-application default policy capabilities for newly created tasks.
const (
	DefaultViewCapability Capability = "tasks.default.view"
	DefaultEditCapability Capability = "tasks.default.edit"
)

// Application carries an installed application's configured policies.
type Application struct {
	Name     string
	policies map[Capability]string
}

// NewApplication returns an application with the given per-capability
// policies. Invalid or missing entries fall back to Users.
func NewApplication(name string, policies map[Capability]string) *Application {
	p := make(map[Capability]string, len(policies))
	for c, v := range policies {
		if IsValid(v) {
			p[c] = v
		}
	}
	return &Application{Name: name, policies: p}
}

// Policy returns the configured policy for capability c.
func (a *Application) Policy(c Capability) string {
	if a == nil {
		return Users
	}
	if v, ok := a.policies[c]; ok {
		return v
	}
	return Users
}
