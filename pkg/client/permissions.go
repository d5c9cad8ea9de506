package client

// Resource is a permission category granted to an installation.
type Resource int

const (
	ResourceIssues Resource = iota
	ResourceSingleFile
	ResourceContents
	ResourceMetadata
	ResourcePullRequests
)

var resourceNames = [...]string{
	ResourceIssues:       "issues",
	ResourceSingleFile:   "single_file",
	ResourceContents:     "contents",
	ResourceMetadata:     "metadata",
	ResourcePullRequests: "pull_requests",
}

// String returns the platform's name for r.
func (r Resource) String() string {
	if r < 0 || int(r) >= len(resourceNames) {
		return "unknown"
	}
	return resourceNames[r]
}

// ParseResource maps a platform permission name to a Resource.
func ParseResource(name string) (Resource, bool) {
	for i, candidate := range resourceNames {
		if candidate == name {
			return Resource(i), true
		}
	}
	return 0, false
}

// Access is the level granted on one resource. Write implies Read.
type Access struct {
	Read  bool
	Write bool
}

// parseAccess maps "read", "write" and anything else (including "none").
func parseAccess(level string) Access {
	switch level {
	case "write", "admin":
		return Access{Read: true, Write: true}
	case "read":
		return Access{Read: true}
	default:
		return Access{}
	}
}

func (a Access) String() string {
	switch {
	case a.Write:
		return "write"
	case a.Read:
		return "read"
	default:
		return "none"
	}
}

// Permissions holds the access granted on every known resource.
type Permissions struct {
	Issues       Access
	SingleFile   Access
	Contents     Access
	Metadata     Access
	PullRequests Access
}

// ParsePermissions converts the platform's permission map. Unknown
// resources are ignored.
func ParsePermissions(raw map[string]string) Permissions {
	var p Permissions
	for name, level := range raw {
		resource, ok := ParseResource(name)
		if !ok {
			continue
		}
		*p.slot(resource) = parseAccess(level)
	}
	return p
}

// Get returns the access granted on r.
func (p Permissions) Get(r Resource) Access {
	if slot := p.slot(r); slot != nil {
		return *slot
	}
	return Access{}
}

// slot returns the field backing r. The switch is exhaustive over Resource.
func (p *Permissions) slot(r Resource) *Access {
	switch r {
	case ResourceIssues:
		return &p.Issues
	case ResourceSingleFile:
		return &p.SingleFile
	case ResourceContents:
		return &p.Contents
	case ResourceMetadata:
		return &p.Metadata
	case ResourcePullRequests:
		return &p.PullRequests
	default:
		return nil
	}
}

// Map renders p in the platform's format, omitting resources with no access.
func (p Permissions) Map() map[string]string {
	out := make(map[string]string)
	for i := range resourceNames {
		access := p.Get(Resource(i))
		if access.Read {
			out[Resource(i).String()] = access.String()
		}
	}
	return out
}
