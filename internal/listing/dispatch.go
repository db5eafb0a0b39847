package listing

import (
	"github.com/ashureev/snaplist/internal/domain"
)

// Dispatch applies a decoded tool call to draft and returns the next step.
// A call that is not legal from current leaves both the draft and the step
// untouched.
func Dispatch(call ToolCall, current domain.FlowStep, draft *domain.ProductDraft) domain.FlowStep {
	if call == nil || !Legal(current.Step, call.ToolName()) {
		return current
	}

	next := current
	switch c := call.(type) {
	case ProposeListing:
		draft.Merge(c.patch())
		next.Step = domain.StepProposeListing
	case AskForAdditionalInfo:
		next.Step = domain.StepGatherDetails
	case FinalizeListing:
		draft.Merge(c.FinalListing.patch())
		next.Step = domain.StepConfirmListing
	}
	return next
}
