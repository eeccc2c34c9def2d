package protocol

// Dialog event types pushed on the per-dialog channel and to the
// global broadcaster. These names are the wire contract; front-ends
// switch on them verbatim.
const (
	EventGeneratingStart  = "generating_start_evt"
	EventGeneratingFinish = "generating_finish_evt"

	EventThinkingStart  = "thinking_start_evt"
	EventThinkingChunk  = "thinking_chunk_evt"
	EventThinkingFinish = "thinking_finish_evt"

	EventSayingStart  = "saying_start_evt"
	EventSayingChunk  = "saying_chunk_evt"
	EventSayingFinish = "saying_finish_evt"

	EventMarkdownStart  = "markdown_start_evt"
	EventMarkdownChunk  = "markdown_chunk_evt"
	EventMarkdownFinish = "markdown_finish_evt"

	EventCallingStart          = "calling_start_evt"
	EventCallingHeadlineChunk  = "calling_headline_chunk_evt"
	EventCallingHeadlineFinish = "calling_headline_finish_evt"
	EventCallingBodyStart      = "calling_body_start_evt"
	EventCallingBodyChunk      = "calling_body_chunk_evt"
	EventCallingBodyFinish     = "calling_body_finish_evt"
	EventCallingFinish         = "calling_finish_evt"

	EventFuncCallRequested = "func_call_requested_evt"
	EventFuncResult        = "func_result_evt"

	EventStreamError     = "stream_error_evt"
	EventStreamOverflow  = "stream_overflow_evt"
	EventDiligenceBudget = "diligence_budget_evt"

	EventNewQ4HAsked = "new_q4h_asked"
	EventQ4HAnswered = "q4h_answered"

	EventSubdialogCreated = "subdialog_created_evt"
	EventSubdialogDone    = "subdialog_done"

	EventDlgRunState = "dlg_run_state_evt"
	EventDlgTouched  = "dlg_touched_evt"
)

// Journal-only record types. These appear in round-<N>.jsonl but are
// not pushed to front-ends.
const (
	RecordUserPrompt       = "user_prompt"
	RecordAgentWords       = "agent_words_record"
	RecordTeammateResponse = "teammate_response"
	RecordReminderUpdate   = "reminder_update"
	RecordQ4HAsked         = "q4h_asked"
	RecordQ4HAnswered      = "q4h_answered"
	RecordRoundAdvance     = "round_advance"
	RecordSubdialogCreated = "subdialog_created"
	RecordFuncCall         = "func_call_requested"
	RecordFuncResult       = "func_result"
)

// First-line markers of tool-style error results returned to the LLM.
const (
	ErrUnknownCall   = "ERR_UNKNOWN_CALL"
	ErrToolExecution = "ERR_TOOL_EXECUTION"
	ErrMutexBusy     = "ERR_MUTEX_BUSY"
)

// Stream error reasons.
const (
	StreamErrUserStop = "user_stop"
	StreamErrProvider = "provider_error"
)
