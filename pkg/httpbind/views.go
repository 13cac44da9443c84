package httpbind

import (
	fieldstore "github.com/goliatone/go-fieldstore"
	"github.com/goliatone/go-fieldstore/persistence"
)

// StateView is the JSON form of a snapshot.
type StateView struct {
	Version     uint64                             `json:"version"`
	Operation   string                             `json:"operation,omitempty"`
	Touched     []string                           `json:"touched,omitempty"`
	IsHydrating bool                               `json:"isHydrating"`
	Values      persistence.Dictionary             `json:"values"`
	Errors      map[string]*fieldstore.FieldErrors `json:"errors,omitempty"`
}

// NewStateView serializes state. Values hold the active fields only.
func NewStateView(state fieldstore.State) StateView {
	view := StateView{
		Version:     state.Version,
		Operation:   string(state.Operation),
		Touched:     state.Touched,
		IsHydrating: state.IsHydrating,
		Values:      state.Collection.Primitives(),
	}
	if errs := state.Collection.Errors(); len(errs) > 0 {
		view.Errors = errs
	}
	return view
}

// FieldView is the JSON form of a field.
type FieldView struct {
	Name        string                  `json:"name"`
	Type        fieldstore.FieldType    `json:"type"`
	Value       *persistence.Value      `json:"value"`
	Submittable bool                    `json:"submittable"`
	IsHydrating bool                    `json:"isHydrating"`
	Errors      *fieldstore.FieldErrors `json:"errors,omitempty"`
}

// NewFieldView serializes field. An inactive value renders as null.
func NewFieldView(field fieldstore.Field) FieldView {
	view := FieldView{
		Name:        field.Name,
		Type:        field.Type,
		Submittable: field.Submittable,
		IsHydrating: field.IsHydrating,
		Errors:      field.Errors,
	}
	if field.IsActive() && field.Serializer != nil {
		value := field.Serializer.Serialize(field.Value)
		view.Value = &value
	}
	return view
}

// SubmitView is the JSON form of a submission result.
type SubmitView struct {
	Searched  bool   `json:"searched"`
	Persisted bool   `json:"persisted"`
	Error     string `json:"error,omitempty"`
}

func NewSubmitView(result fieldstore.SubmitResult) SubmitView {
	view := SubmitView{Searched: result.Searched, Persisted: result.Persisted}
	if result.Err != nil {
		view.Error = result.Err.Error()
	}
	return view
}
