package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/theleeeo/records/model"
	"github.com/theleeeo/records/resource"
	"github.com/theleeeo/records/store"
)

func (a *App) List(ctx context.Context, resourceName string) ([]model.Record, error) {
	_, st, err := a.resolve(resourceName)
	if err != nil {
		return nil, err
	}

	records, err := st.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records failed: %w", err)
	}
	return records, nil
}

func (a *App) Create(ctx context.Context, resourceName string, body []byte) (model.Record, error) {
	rCfg, st, err := a.resolve(resourceName)
	if err != nil {
		return model.Record{}, err
	}

	fields, err := rCfg.Decode(body)
	if err != nil {
		return model.Record{}, validationError(err)
	}

	if err := rCfg.CheckRules(fields); err != nil {
		return model.Record{}, validationError(err)
	}

	rec, err := st.Create(ctx, fields)
	if err != nil {
		return model.Record{}, fmt.Errorf("create record failed: %w", err)
	}

	a.enqueueIndex(ctx, rCfg, rec.ID)
	return rec, nil
}

func (a *App) Get(ctx context.Context, resourceName string, rawID string) (model.Record, error) {
	rCfg, st, err := a.resolve(resourceName)
	if err != nil {
		return model.Record{}, err
	}

	id, err := parseID(rCfg, rawID)
	if err != nil {
		return model.Record{}, err
	}

	rec, err := st.Get(ctx, id)
	if err != nil {
		return model.Record{}, storeError(rCfg, id, err)
	}
	return rec, nil
}

// Update applies the fields present in body on top of the stored record. Fields
// that are left out keep their value.
func (a *App) Update(ctx context.Context, resourceName string, rawID string, body []byte) (model.Record, error) {
	rCfg, st, err := a.resolve(resourceName)
	if err != nil {
		return model.Record{}, err
	}

	id, err := parseID(rCfg, rawID)
	if err != nil {
		return model.Record{}, err
	}

	// The body is only looked at once the record is known to exist, so a
	// missing record wins over a bad body.
	rec, err := st.Update(ctx, id, func(current model.Record) (map[string]any, error) {
		// Decoding first rejects nulls and type mismatches, so the merge below
		// can neither remove nor corrupt a field.
		changes, err := rCfg.DecodePartial(body)
		if err != nil {
			return nil, validationError(err)
		}
		patch, err := json.Marshal(changes)
		if err != nil {
			return nil, err
		}

		doc, err := json.Marshal(current.Fields)
		if err != nil {
			return nil, err
		}
		merged, err := jsonpatch.MergePatch(doc, patch)
		if err != nil {
			return nil, fmt.Errorf("merge patch: %w", err)
		}
		return checkRecord(rCfg, id, merged)
	})
	if err != nil {
		return model.Record{}, storeError(rCfg, id, err)
	}

	a.enqueueIndex(ctx, rCfg, rec.ID)
	return rec, nil
}

// Patch applies a JSON Patch (RFC 6902) document to the record. The id is part
// of the patched document but can not be changed.
func (a *App) Patch(ctx context.Context, resourceName string, rawID string, body []byte) (model.Record, error) {
	rCfg, st, err := a.resolve(resourceName)
	if err != nil {
		return model.Record{}, err
	}

	id, err := parseID(rCfg, rawID)
	if err != nil {
		return model.Record{}, err
	}

	rec, err := st.Update(ctx, id, func(current model.Record) (map[string]any, error) {
		patch, err := jsonpatch.DecodePatch(body)
		if err != nil {
			return nil, &ValidationError{Msg: fmt.Sprintf("invalid JSON patch: %v", err)}
		}

		doc, err := json.Marshal(current)
		if err != nil {
			return nil, err
		}

		patched, err := patch.Apply(doc)
		if err != nil {
			return nil, &ValidationError{Msg: fmt.Sprintf("applying JSON patch: %v", err)}
		}

		var ref struct {
			ID *int64 `json:"id"`
		}
		if err := json.Unmarshal(patched, &ref); err != nil || ref.ID == nil || *ref.ID != id {
			return nil, &ValidationError{Msg: "id can not be changed"}
		}

		return checkRecord(rCfg, id, patched)
	})
	if err != nil {
		return model.Record{}, storeError(rCfg, id, err)
	}

	a.enqueueIndex(ctx, rCfg, rec.ID)
	return rec, nil
}

func (a *App) Delete(ctx context.Context, resourceName string, rawID string) (model.DeleteResult, error) {
	rCfg, st, err := a.resolve(resourceName)
	if err != nil {
		return model.DeleteResult{}, err
	}

	id, err := parseID(rCfg, rawID)
	if err != nil {
		return model.DeleteResult{}, err
	}

	rec, err := st.Delete(ctx, id)
	if err != nil {
		return model.DeleteResult{}, storeError(rCfg, id, err)
	}

	a.enqueueIndex(ctx, rCfg, rec.ID)

	return model.DeleteResult{
		Result:  true,
		Message: fmt.Sprintf("%s with ID %d deleted successfully", rCfg.Label, rec.ID),
		ID:      rec.ID,
	}, nil
}

// checkRecord decodes a complete candidate record and runs the resource rules on it.
func checkRecord(rCfg *resource.Config, id int64, doc []byte) (map[string]any, error) {
	fields, err := rCfg.Decode(doc)
	if err != nil {
		return nil, validationError(err)
	}

	candidate := model.Record{ID: id, Fields: fields}
	if err := rCfg.CheckRules(candidate.Map()); err != nil {
		return nil, validationError(err)
	}
	return fields, nil
}

func validationError(err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return &ValidationError{Msg: err.Error()}
}

func storeError(rCfg *resource.Config, id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Label: rCfg.Label, ID: id}
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}

	return fmt.Errorf("%s %d: %w", rCfg.Resource, id, err)
}
