package domain

// Defaults applied to the CI workflow-dispatch target.
const (
	DefaultCIRef        = "main"
	DefaultCIAPIBaseURL = "https://api.github.com"
)

// WebhookConfig holds operator-supplied delivery settings.
// A snapshot is taken per dispatch and never mutated afterwards.
type WebhookConfig struct {
	URL     string `json:"url,omitempty"`
	Secret  string `json:"secret,omitempty"`
	SiteURL string `json:"site_url,omitempty"`

	CIRepo         string `json:"ci_repo,omitempty"`
	CIWorkflowFile string `json:"ci_workflow_file,omitempty"`
	CIToken        string `json:"ci_token,omitempty"`
	CIRef          string `json:"ci_ref,omitempty"`
	CIAPIBaseURL   string `json:"ci_api_base_url,omitempty"`
}

// HasWebhook reports whether a generic webhook destination is set.
func (c WebhookConfig) HasWebhook() bool {
	return c.URL != ""
}

// HasCI reports whether the CI workflow-dispatch target is fully configured.
func (c WebhookConfig) HasCI() bool {
	return c.CIRepo != "" && c.CIWorkflowFile != "" && c.CIToken != ""
}

// Masked returns a copy with secrets replaced, suitable for logs and API output.
func (c WebhookConfig) Masked() WebhookConfig {
	m := c
	if m.Secret != "" {
		m.Secret = "***"
	}
	if m.CIToken != "" {
		m.CIToken = "***"
	}
	return m
}
