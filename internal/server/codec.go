package server

import (
	"errors"
	"fmt"

	"github.com/cybershield-x/shield/internal/engine"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrBadRequest marks a request message that is missing or mistypes a field.
var ErrBadRequest = errors.New("bad request")

// ProfileFromStruct decodes {package_name, app_name, permissions, is_system_app}.
func ProfileFromStruct(s *structpb.Struct) (*engine.AppProfile, error) {
	f := s.GetFields()
	pkg := stringField(f, "package_name")
	if pkg == "" {
		return nil, fmt.Errorf("%w: package_name is required", ErrBadRequest)
	}
	perms, err := stringList(f, "permissions")
	if err != nil {
		return nil, err
	}
	return &engine.AppProfile{
		PackageName: pkg,
		AppName:     stringField(f, "app_name"),
		Permissions: perms,
		IsSystemApp: f["is_system_app"].GetBoolValue(),
	}, nil
}

// ProfileToStruct is the client-side inverse of ProfileFromStruct.
func ProfileToStruct(p *engine.AppProfile) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"package_name":  p.PackageName,
		"app_name":      p.AppName,
		"permissions":   anyList(p.Permissions),
		"is_system_app": p.IsSystemApp,
	})
}

// AppResultToStruct encodes an app assessment.
func AppResultToStruct(res *engine.RiskAssessment, requestID string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"score":           res.Score,
		"label":           res.Label.String(),
		"threat_type":     res.ThreatType,
		"reasons":         anyList(res.Reasons),
		"source":          res.Source.String(),
		"analysis":        res.Analysis,
		"recommendations": anyList(res.Recommendations),
		"request_id":      requestID,
	})
}

// AppResultFromStruct decodes an app assessment.
func AppResultFromStruct(s *structpb.Struct) (*engine.RiskAssessment, error) {
	f := s.GetFields()
	label, ok := engine.ParseLabel(stringField(f, "label"))
	if !ok {
		return nil, fmt.Errorf("%w: label %q", engine.ErrMalformedResponse, stringField(f, "label"))
	}
	source, _ := engine.ParseSource(stringField(f, "source"))
	reasons, err := stringList(f, "reasons")
	if err != nil {
		return nil, err
	}
	recs, err := stringList(f, "recommendations")
	if err != nil {
		return nil, err
	}
	return &engine.RiskAssessment{
		Score:           f["score"].GetNumberValue(),
		Label:           label,
		ThreatType:      stringField(f, "threat_type"),
		Reasons:         reasons,
		Source:          source,
		Analysis:        stringField(f, "analysis"),
		Recommendations: recs,
	}, nil
}

// URLResultToStruct encodes a URL assessment.
func URLResultToStruct(res *engine.URLAssessment, requestID string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"score":           res.Score,
		"is_phishing":     res.IsPhishing,
		"category":        res.Category,
		"reasons":         anyList(res.Reasons),
		"source":          res.Source.String(),
		"analysis":        res.Analysis,
		"recommendations": anyList(res.Recommendations),
		"request_id":      requestID,
	})
}

// URLResultFromStruct decodes a URL assessment.
func URLResultFromStruct(s *structpb.Struct) (*engine.URLAssessment, error) {
	f := s.GetFields()
	source, _ := engine.ParseSource(stringField(f, "source"))
	reasons, err := stringList(f, "reasons")
	if err != nil {
		return nil, err
	}
	recs, err := stringList(f, "recommendations")
	if err != nil {
		return nil, err
	}
	return &engine.URLAssessment{
		Score:           f["score"].GetNumberValue(),
		IsPhishing:      f["is_phishing"].GetBoolValue(),
		Category:        stringField(f, "category"),
		Reasons:         reasons,
		Source:          source,
		Analysis:        stringField(f, "analysis"),
		Recommendations: recs,
	}, nil
}

func stringField(f map[string]*structpb.Value, key string) string {
	return f[key].GetStringValue()
}

// stringList reads an optional list of strings.
func stringList(f map[string]*structpb.Value, key string) ([]string, error) {
	v, ok := f[key]
	if !ok {
		return nil, nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: %s must be a list", ErrBadRequest, key)
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		sv, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%w: %s must contain strings", ErrBadRequest, key)
		}
		out = append(out, sv.StringValue)
	}
	return out, nil
}

// anyList converts for structpb.NewStruct, which rejects []string.
func anyList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
