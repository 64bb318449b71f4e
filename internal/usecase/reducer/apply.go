package reducer

import (
	"log/slog"

	"docchat/internal/domain"
	"docchat/internal/usecase/toolcall"
)

type runKind int

const (
	runText runKind = iota
	runReasoning
)

// applier mutates the working message for one chunk at a time.
type applier struct {
	msg     *domain.Message
	machine *toolcall.Machine
	logger  *slog.Logger

	// runs maps a text or reasoning chunk id to its part index.
	runs  [2]map[string]int
	tools map[string]int
}

var _ domain.ChunkVisitor = (*applier)(nil)

func newApplier(msg *domain.Message, machine *toolcall.Machine, logger *slog.Logger) *applier {
	a := &applier{
		msg:     msg,
		machine: machine,
		logger:  logger,
		runs:    [2]map[string]int{{}, {}},
		tools:   make(map[string]int),
	}
	for i, p := range msg.Parts {
		if tp, ok := p.(*domain.ToolPart); ok {
			machine.Seed(tp)
			a.tools[tp.ToolCallID] = i
		}
	}
	return a
}

func (a *applier) VisitStartStep(domain.StartStepChunk) {
	a.msg.Parts = append(a.msg.Parts, &domain.StepStartPart{})
}

// VisitFinishStep closes every text and reasoning run left open.
func (a *applier) VisitFinishStep(domain.FinishStepChunk) {
	for _, p := range a.msg.Parts {
		if _, state, ok := runFields(p, runText); ok {
			*state = domain.PartStateDone
		}
		if _, state, ok := runFields(p, runReasoning); ok {
			*state = domain.PartStateDone
		}
	}
}

func (a *applier) VisitTextStart(c domain.TextStartChunk) { a.openRun(runText, c.ID, "") }
func (a *applier) VisitTextDelta(c domain.TextDeltaChunk) { a.extendRun(runText, c.ID, c.Delta) }
func (a *applier) VisitTextEnd(c domain.TextEndChunk)     { a.endRun(runText, c.ID) }

func (a *applier) VisitReasoningStart(c domain.ReasoningStartChunk) {
	a.openRun(runReasoning, c.ID, "")
}

func (a *applier) VisitReasoningDelta(c domain.ReasoningDeltaChunk) {
	a.extendRun(runReasoning, c.ID, c.Delta)
}

func (a *applier) VisitReasoningEnd(c domain.ReasoningEndChunk) {
	a.endRun(runReasoning, c.ID)
}

func (a *applier) VisitToolInputStart(c domain.ToolInputStartChunk) {
	a.upsertTool(a.machine.Start(c))
}

func (a *applier) VisitToolInputDelta(c domain.ToolInputDeltaChunk) {
	a.upsertTool(a.machine.Delta(c))
}

func (a *applier) VisitToolInputAvailable(c domain.ToolInputAvailableChunk) {
	a.upsertTool(a.machine.InputAvailable(c))
}

func (a *applier) VisitToolOutputAvailable(c domain.ToolOutputAvailableChunk) {
	a.upsertTool(a.machine.OutputAvailable(c))
}

func (a *applier) VisitToolOutputError(c domain.ToolOutputErrorChunk) {
	a.upsertTool(a.machine.OutputError(c))
}

func (a *applier) VisitSourceURL(c domain.SourceURLChunk) {
	a.msg.Parts = append(a.msg.Parts, &domain.SourceURLPart{SourceID: c.SourceID, URL: c.URL, Title: c.Title})
}

func (a *applier) VisitFile(c domain.FileChunk) {
	a.msg.Parts = append(a.msg.Parts, &domain.FilePart{URL: c.URL, MediaType: c.MediaType})
}

func (a *applier) VisitError(c domain.ErrorChunk) {
	a.logger.Warn("generation reported error", "message_id", a.msg.ID, "error", c.ErrorText)
	a.msg.Error = c.ErrorText
}

// upsertTool projects r onto the part with the same call id, appending a new
// part on first sight.
func (a *applier) upsertTool(r *toolcall.Record, ok bool) {
	if !ok {
		return
	}
	if i, found := a.tools[r.ToolCallID]; found {
		r.Project(a.msg.Parts[i].(*domain.ToolPart))
		return
	}
	a.tools[r.ToolCallID] = len(a.msg.Parts)
	a.msg.Parts = append(a.msg.Parts, r.Part())
}

func (a *applier) openRun(kind runKind, id, text string) {
	var p domain.Part
	if kind == runText {
		p = &domain.TextPart{State: domain.PartStateStreaming, Text: text}
	} else {
		p = &domain.ReasoningPart{State: domain.PartStateStreaming, Text: text}
	}
	if id != "" {
		a.runs[kind][id] = len(a.msg.Parts)
	}
	a.msg.Parts = append(a.msg.Parts, p)
}

// extendRun appends delta to the open run with the same id, falling back to
// a trailing open run of the same kind, else opens a new run.
func (a *applier) extendRun(kind runKind, id, delta string) {
	if text, _, ok := a.openRunByID(kind, id); ok {
		*text += delta
		return
	}
	if last := a.msg.LastPart(); last != nil {
		if text, state, ok := runFields(last, kind); ok && *state == domain.PartStateStreaming {
			*text += delta
			if id != "" {
				a.runs[kind][id] = len(a.msg.Parts) - 1
			}
			return
		}
	}
	a.openRun(kind, id, delta)
}

func (a *applier) endRun(kind runKind, id string) {
	if _, state, ok := a.openRunByID(kind, id); ok {
		*state = domain.PartStateDone
		return
	}
	for i := len(a.msg.Parts) - 1; i >= 0; i-- {
		if _, state, ok := runFields(a.msg.Parts[i], kind); ok && *state == domain.PartStateStreaming {
			*state = domain.PartStateDone
			return
		}
	}
	a.logger.Debug("end chunk without open part", "id", id)
}

func (a *applier) openRunByID(kind runKind, id string) (*string, *domain.PartState, bool) {
	i, ok := a.runs[kind][id]
	if !ok || id == "" {
		return nil, nil, false
	}
	text, state, ok := runFields(a.msg.Parts[i], kind)
	if !ok || *state != domain.PartStateStreaming {
		return nil, nil, false
	}
	return text, state, true
}

func runFields(p domain.Part, kind runKind) (*string, *domain.PartState, bool) {
	switch kind {
	case runText:
		if tp, ok := p.(*domain.TextPart); ok {
			return &tp.Text, &tp.State, true
		}
	case runReasoning:
		if rp, ok := p.(*domain.ReasoningPart); ok {
			return &rp.Text, &rp.State, true
		}
	}
	return nil, nil, false
}
