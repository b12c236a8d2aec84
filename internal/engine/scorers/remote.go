package scorers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cybershield-x/shield/internal/engine"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Generator sends a free-form prompt to a text model and returns its raw reply.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

const appResponseSchema = `{
	"type": "object",
	"required": ["riskScore", "threatLabel", "threatType", "analysis", "recommendations"],
	"properties": {
		"riskScore": {"type": "number", "minimum": 0, "maximum": 1},
		"threatLabel": {"type": "string", "enum": ["Safe", "Suspicious", "Malicious"]},
		"threatType": {"type": "string"},
		"analysis": {"type": "string"},
		"recommendations": {"type": "array", "items": {"type": "string"}}
	}
}`

const urlResponseSchema = `{
	"type": "object",
	"required": ["isPhishing", "confidence", "category", "analysis", "indicators", "recommendations"],
	"properties": {
		"isPhishing": {"type": "boolean"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"category": {"type": "string"},
		"analysis": {"type": "string"},
		"indicators": {"type": "array", "items": {"type": "string"}},
		"recommendations": {"type": "array", "items": {"type": "string"}}
	}
}`

type appResponse struct {
	RiskScore       float64  `json:"riskScore"`
	ThreatLabel     string   `json:"threatLabel"`
	ThreatType      string   `json:"threatType"`
	Analysis        string   `json:"analysis"`
	Recommendations []string `json:"recommendations"`
}

type urlResponse struct {
	IsPhishing      bool     `json:"isPhishing"`
	Confidence      float64  `json:"confidence"`
	Category        string   `json:"category"`
	Analysis        string   `json:"analysis"`
	Indicators      []string `json:"indicators"`
	Recommendations []string `json:"recommendations"`
}

// RemoteAnalyzer turns a Generator into an engine.Analyzer. Replies are
// validated against a fixed JSON schema; anything else is ErrMalformedResponse.
type RemoteAnalyzer struct {
	gen       Generator
	appSchema *jsonschema.Schema
	urlSchema *jsonschema.Schema
}

func NewRemoteAnalyzer(gen Generator) (*RemoteAnalyzer, error) {
	appSchema, err := compileSchema("app.json", appResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("NewRemoteAnalyzer: %w", err)
	}
	urlSchema, err := compileSchema("url.json", urlResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("NewRemoteAnalyzer: %w", err)
	}
	return &RemoteAnalyzer{gen: gen, appSchema: appSchema, urlSchema: urlSchema}, nil
}

func (a *RemoteAnalyzer) Name() string {
	return a.gen.Name()
}

func (a *RemoteAnalyzer) AnalyzeApp(ctx context.Context, p *engine.AppProfile) (*engine.RiskAssessment, error) {
	text, err := a.gen.Generate(ctx, buildAppPrompt(p))
	if err != nil {
		return nil, fmt.Errorf("AnalyzeApp: %w", err)
	}

	var resp appResponse
	if err := decodeValidated(text, a.appSchema, &resp); err != nil {
		return nil, fmt.Errorf("AnalyzeApp: %w", err)
	}

	label, ok := engine.ParseLabel(resp.ThreatLabel)
	if !ok {
		return nil, fmt.Errorf("AnalyzeApp: %w: unknown threat label %q", engine.ErrMalformedResponse, resp.ThreatLabel)
	}

	var reasons []string
	if resp.Analysis != "" {
		reasons = []string{resp.Analysis}
	}
	return &engine.RiskAssessment{
		Score:           engine.ClampScore(resp.RiskScore),
		Label:           label,
		ThreatType:      resp.ThreatType,
		Reasons:         reasons,
		Analysis:        resp.Analysis,
		Recommendations: resp.Recommendations,
	}, nil
}

func (a *RemoteAnalyzer) AnalyzeURL(ctx context.Context, url string) (*engine.URLAssessment, error) {
	text, err := a.gen.Generate(ctx, buildURLPrompt(url))
	if err != nil {
		return nil, fmt.Errorf("AnalyzeURL: %w", err)
	}

	var resp urlResponse
	if err := decodeValidated(text, a.urlSchema, &resp); err != nil {
		return nil, fmt.Errorf("AnalyzeURL: %w", err)
	}

	return &engine.URLAssessment{
		Score:           engine.ClampScore(resp.Confidence),
		IsPhishing:      resp.IsPhishing,
		Category:        resp.Category,
		Reasons:         resp.Indicators,
		Analysis:        resp.Analysis,
		Recommendations: resp.Recommendations,
	}, nil
}

// decodeValidated strips markdown fences, validates the reply against the
// schema and decodes it into dst.
func decodeValidated(text string, sch *jsonschema.Schema, dst any) error {
	text = stripFences(text)

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return fmt.Errorf("%w: not valid JSON: %v", engine.ErrMalformedResponse, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: schema validation failed: %v", engine.ErrMalformedResponse, err)
	}
	if err := json.Unmarshal([]byte(text), dst); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrMalformedResponse, err)
	}
	return nil
}

func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	var schemaObj any
	if err := json.Unmarshal([]byte(src), &schemaObj); err != nil {
		return nil, fmt.Errorf("schema unmarshal error: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, schemaObj); err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	return sch, nil
}

func buildAppPrompt(p *engine.AppProfile) string {
	perms := make([]string, 0, len(p.Permissions))
	for _, perm := range p.Permissions {
		perms = append(perms, engine.NormalizePermission(perm))
	}

	var b strings.Builder
	b.WriteString("Analyze this Android app for security threats and privacy risks:\n\n")
	fmt.Fprintf(&b, "App Name: %s\n", p.AppName)
	fmt.Fprintf(&b, "Package Name: %s\n", p.PackageName)
	fmt.Fprintf(&b, "Is System App: %t\n", p.IsSystemApp)
	fmt.Fprintf(&b, "Permissions: %s\n\n", strings.Join(perms, ", "))
	b.WriteString(`Provide a security analysis in this exact JSON format:
{
    "riskScore": 0.0-1.0,
    "threatLabel": "Safe|Suspicious|Malicious",
    "threatType": "None|Privacy Risk|Malware|Adware|Spyware|Data Exfiltration",
    "analysis": "Brief security analysis",
    "recommendations": ["recommendation1", "recommendation2"]
}

Consider:
1. Permission combinations that indicate malicious behavior
2. Known malware patterns in package names
3. Excessive permissions for app type
4. Privacy risks from data collection
5. System app vs user app context

Respond ONLY with valid JSON, no additional text.`)
	return b.String()
}

func buildURLPrompt(url string) string {
	var b strings.Builder
	b.WriteString("Analyze this URL for phishing, malware, and security threats:\n\n")
	fmt.Fprintf(&b, "URL: %s\n\n", url)
	b.WriteString(`Provide a comprehensive security analysis in this exact JSON format:
{
    "isPhishing": true/false,
    "confidence": 0.0-1.0,
    "category": "Safe|Suspicious|Phishing|Malware|Scam",
    "analysis": "Detailed analysis of the URL",
    "indicators": ["indicator1", "indicator2"],
    "recommendations": ["recommendation1", "recommendation2"]
}

Consider:
1. URL structure and patterns (IP addresses, excessive subdomains, suspicious TLDs)
2. Known phishing keywords and brand impersonation
3. Suspicious URL shorteners
4. Homograph attacks (lookalike domains)
5. Typosquatting attempts

Respond ONLY with valid JSON, no additional text.`)
	return b.String()
}
