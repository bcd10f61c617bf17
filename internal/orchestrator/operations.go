package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/local/writingtools/internal/ai"
	"github.com/local/writingtools/internal/settings"
)

// OperationKind names a transformation the user can request.
type OperationKind string

const (
	OpProofread    OperationKind = "proofread"
	OpRewrite      OperationKind = "rewrite"
	OpFriendly     OperationKind = "friendly"
	OpProfessional OperationKind = "professional"
	OpConcise      OperationKind = "concise"
	OpSummary      OperationKind = "summary"
	OpKeyPoints    OperationKind = "key_points"
	OpTable        OperationKind = "table"
	OpCustom       OperationKind = "custom"
	OpCommand      OperationKind = "command"
)

// DeliveryMode tells the delivery surface where a result goes.
type DeliveryMode string

const (
	DeliverReplace DeliveryMode = "replace"
	DeliverWindow  DeliveryMode = "window"
)

var (
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrMissingInstruction = errors.New("custom operation needs an instruction")
	ErrMissingCommand     = errors.New("command operation needs a command")
)

const customSystemPrompt = `You are a writing and coding assistant. Your sole task is to respond to the user's instruction thoughtfully and comprehensively.
If the instruction is a question, provide a detailed answer.
Use Markdown formatting to make your response more readable.`

var builtinPrompts = map[OperationKind]string{
	OpProofread: "You are a grammar proofreading assistant. Correct spelling, grammar and punctuation. " +
		"Output ONLY the corrected text without any additional comments. Keep the original language and meaning.",
	OpRewrite: "You are a writing assistant. Rewrite the text to improve its phrasing and flow. " +
		"Output ONLY the rewritten text without any additional comments.",
	OpFriendly: "You are a writing assistant. Rewrite the text in a warmer, friendlier tone. " +
		"Output ONLY the rewritten text without any additional comments.",
	OpProfessional: "You are a writing assistant. Rewrite the text in a formal, professional tone. " +
		"Output ONLY the rewritten text without any additional comments.",
	OpConcise: "You are a writing assistant. Make the text more concise while keeping its meaning. " +
		"Output ONLY the shortened text without any additional comments.",
	OpSummary: "You are a summarization assistant. Provide a succinct summary of the content. " +
		"Use Markdown formatting where it helps readability.",
	OpKeyPoints: "You are an assistant that extracts key points. List the most important points of the content " +
		"as a Markdown bullet list.",
	OpTable: "You are an assistant that organizes information. Convert the content into a Markdown table.",
}

// video-only default user prompts
var videoPrompts = map[OperationKind]string{
	OpSummary:   "Summarize the content of this video.",
	OpKeyPoints: "Extract the key points from this video.",
	OpTable:     "Convert the content of this video into a table.",
}

const (
	defaultVideoPrompt = "This is a video, consider its content."
	videoNote          = "\n\n(This video should be considered.)"
)

// Operation is a requested transformation. Instruction is used by OpCustom, Command by OpCommand.
type Operation struct {
	Kind        OperationKind     `json:"kind"`
	Instruction string            `json:"instruction,omitempty"`
	Command     *settings.Command `json:"command,omitempty"`
}

// Name is the label used in logs, metrics and status records.
func (o Operation) Name() string {
	if o.Kind == OpCommand && o.Command != nil && o.Command.Name != "" {
		return "command:" + o.Command.Name
	}
	return string(o.Kind)
}

// Delivery reports where the result of o should be shown.
func (o Operation) Delivery() DeliveryMode {
	switch o.Kind {
	case OpSummary, OpKeyPoints, OpTable, OpCustom:
		return DeliverWindow
	case OpCommand:
		if o.Command != nil && o.Command.UseResponseWindow {
			return DeliverWindow
		}
	}
	return DeliverReplace
}

func (o Operation) Validate() error {
	switch o.Kind {
	case OpProofread, OpRewrite, OpFriendly, OpProfessional, OpConcise, OpSummary, OpKeyPoints, OpTable:
		return nil
	case OpCustom:
		if strings.TrimSpace(o.Instruction) == "" {
			return ErrMissingInstruction
		}
		return nil
	case OpCommand:
		if o.Command == nil {
			return ErrMissingCommand
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownOperation, o.Kind)
}

// hasInstruction reports whether o can run with nothing captured.
func (o Operation) hasInstruction() bool {
	return o.Kind == OpCustom && strings.TrimSpace(o.Instruction) != ""
}

// Selection is the captured content a request is built from.
type Selection struct {
	Text   string
	Images [][]byte
	Videos [][]byte
}

func (s Selection) empty() bool {
	return s.Text == "" && len(s.Images) == 0 && len(s.Videos) == 0
}

// BuildRequest turns an operation and its captured content into a provider request.
// When a video is present images are never sent.
func BuildRequest(op Operation, sel Selection) (ai.Request, error) {
	if err := op.Validate(); err != nil {
		return ai.Request{}, err
	}
	req := ai.Request{Images: sel.Images, Videos: sel.Videos}
	hasVideo := len(sel.Videos) > 0
	if hasVideo {
		req.Images = nil
	}

	switch op.Kind {
	case OpCustom:
		req.SystemPrompt = customSystemPrompt
		req.UserPrompt = op.Instruction
		if sel.Text != "" {
			req.UserPrompt = "User's instruction: " + op.Instruction + "\n\nText:\n" + sel.Text
		}
	case OpCommand:
		req.SystemPrompt = op.Command.Prompt
		req.UserPrompt = sel.Text
	default:
		req.SystemPrompt = builtinPrompts[op.Kind]
		req.UserPrompt = sel.Text
		if hasVideo {
			if sel.Text == "" {
				req.UserPrompt = videoPrompts[op.Kind]
				if req.UserPrompt == "" {
					req.UserPrompt = defaultVideoPrompt
				}
			} else {
				req.UserPrompt = sel.Text + videoNote
			}
		}
	}
	if err := req.Validate(); err != nil {
		return ai.Request{}, err
	}
	return req, nil
}
