package identity

import "context"

// Entitlements 用户是否开通了某种文档类型的实时协作
type Entitlements interface {
	Entitled(ctx context.Context, userID, docType string) (bool, error)
}

// DocTypeEntitlements 按文档类型放行；集合为空表示全部放行
type DocTypeEntitlements struct {
	allowed map[string]struct{}
}

var _ Entitlements = (*DocTypeEntitlements)(nil)

func NewDocTypeEntitlements(docTypes []string) *DocTypeEntitlements {
	allowed := make(map[string]struct{}, len(docTypes))
	for _, t := range docTypes {
		if t != "" {
			allowed[t] = struct{}{}
		}
	}
	return &DocTypeEntitlements{allowed: allowed}
}

func (e *DocTypeEntitlements) Entitled(_ context.Context, _ string, docType string) (bool, error) {
	if len(e.allowed) == 0 {
		return true, nil
	}
	_, ok := e.allowed[docType]
	return ok, nil
}
