package webhook

// Account is the sender, repository owner or installation target.
type Account struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"`
}

// InstallationRef identifies the installation a delivery belongs to.
type InstallationRef struct {
	ID int64 `json:"id"`
}

// Repository is the repository a delivery refers to.
type Repository struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	FullName string  `json:"full_name"`
	Private  bool    `json:"private"`
	Owner    Account `json:"owner"`
}

// IssueLabel is a label already attached to an issue.
type IssueLabel struct {
	Name string `json:"name"`
}

// Issue is the issue of an issues event.
type Issue struct {
	Number int          `json:"number"`
	Title  string       `json:"title"`
	Body   string       `json:"body"`
	Labels []IssueLabel `json:"labels"`
	User   Account      `json:"user"`
}

// LabelNames returns the names of the labels attached to the issue.
func (i Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, label := range i.Labels {
		names = append(names, label.Name)
	}
	return names
}

// IssuesEvent is the payload of "issues" deliveries.
type IssuesEvent struct {
	Action       string          `json:"action"`
	Issue        Issue           `json:"issue"`
	Repository   Repository      `json:"repository"`
	Installation InstallationRef `json:"installation"`
	Sender       Account         `json:"sender"`
}

// Installation is the installation of an installation event.
type Installation struct {
	ID                  int64             `json:"id"`
	Account             Account           `json:"account"`
	RepositorySelection string            `json:"repository_selection"`
	Permissions         map[string]string `json:"permissions"`
}

// InstallationEvent is the payload of "installation" deliveries.
type InstallationEvent struct {
	Action       string       `json:"action"`
	Installation Installation `json:"installation"`
	Repositories []Repository `json:"repositories"`
	Sender       Account      `json:"sender"`
}
