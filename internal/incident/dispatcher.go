package incident

import (
	"context"
	"fmt"
	"time"
)

const manualTriageNote = "manual triage required"

// Dispatcher maps a category to the capability that remediates it. It holds
// no incident state and may be called concurrently.
type Dispatcher struct {
	repo    RepoContext
	codeFix CodeFixer
	docs    DocLookup
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher. Either capability may be nil; dispatch
// for the matching category then fails with ErrNoCapability.
func NewDispatcher(repo RepoContext, codeFix CodeFixer, docs DocLookup) *Dispatcher {
	return &Dispatcher{
		repo:    repo,
		codeFix: codeFix,
		docs:    docs,
		now:     time.Now,
	}
}

// Dispatch invokes the remediation capability for inc's category and returns
// the record to store on the incident. Failures come back as *DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, inc *Incident) (*ResolutionRecord, error) {
	sig := inc.Signal
	switch inc.Category {
	case CategoryCodeDefect:
		if d.codeFix == nil {
			return nil, &DispatchError{Category: inc.Category, Err: fmt.Errorf("code fix: %w", ErrNoCapability)}
		}
		if !sig.HasPrimaryFrame() {
			return nil, &DispatchError{Category: inc.Category, Err: ErrNoPrimaryFrame}
		}
		fix, err := d.codeFix.CreateCodeFix(ctx, d.repo, *sig.Primary, sig.Trace)
		if err != nil {
			return nil, &DispatchError{Category: inc.Category, Err: err}
		}
		return &ResolutionRecord{
			Kind:        ResolutionCodePR,
			Reference:   fix.Reference,
			Description: fix.Description,
			At:          d.now().UTC(),
		}, nil

	case CategoryConfigurationDefect:
		if d.docs == nil {
			return nil, &DispatchError{Category: inc.Category, Err: fmt.Errorf("documentation lookup: %w", ErrNoCapability)}
		}
		doc, err := d.docs.LookupConfigDoc(ctx, sig.Kind, sig.Message)
		if err != nil {
			return nil, &DispatchError{Category: inc.Category, Err: err}
		}
		return &ResolutionRecord{
			Kind:        ResolutionConfigDoc,
			Reference:   doc.Reference,
			Description: doc.Title,
			At:          d.now().UTC(),
		}, nil

	case CategoryUnclassified:
		return &ResolutionRecord{
			Kind:        ResolutionManualTriage,
			Description: manualTriageNote,
			At:          d.now().UTC(),
		}, nil
	}
	return nil, &DispatchError{Category: inc.Category, Err: fmt.Errorf("unknown category %q", inc.Category)}
}
