package streamtranslate

import "github.com/mkurz/claudex/internal/schema"

// blockKey binds upstream event positions to a stable Anthropic block
// index: (output_index, content_index, kind). Either index may be absent
// upstream; -1 marks that.
type blockKey struct {
	outputIndex  int
	contentIndex int
	kind         string
}

const noIndex = -1

// toolMeta accumulates the set-once id/name pair for one tool-use block.
type toolMeta struct {
	id   string
	name string
}

func (m toolMeta) complete() bool { return m.id != "" && m.name != "" }

// state is the per-connection stream-translation state machine. One
// state is owned by exactly one goroutine for the lifetime of one HTTP
// connection.
type state struct {
	messageStarted bool

	nextBlockIndex  int
	blockIndexByKey map[blockKey]int
	lastBlockIndex  int
	hasLastBlock    bool

	toolInputBuffers    map[int]string
	toolMetaByIndex     map[int]*toolMeta
	toolBlockByCallID   map[string]int
	completedBlocks     map[int]bool
	startedTextBlocks   map[int]bool
	completedTextBlocks map[int]bool
	startedToolBlocks   map[int]bool

	sawToolCall     bool
	sawFunctionCall bool

	webSearchCalls        map[string]*schema.WebSearchAction
	webSearchUseEmitted   map[string]bool
	webSearchResultEmit   map[string]bool

	outputTextBuffers  map[blockKey]string
	harmonyTextKeys    map[blockKey]bool
	harmonyConsumedKey map[blockKey]bool

	lastUsage *schema.Usage
}

func newState() *state {
	return &state{
		blockIndexByKey:     make(map[blockKey]int),
		toolInputBuffers:    make(map[int]string),
		toolMetaByIndex:     make(map[int]*toolMeta),
		toolBlockByCallID:   make(map[string]int),
		completedBlocks:     make(map[int]bool),
		startedTextBlocks:   make(map[int]bool),
		completedTextBlocks: make(map[int]bool),
		startedToolBlocks:   make(map[int]bool),
		webSearchCalls:      make(map[string]*schema.WebSearchAction),
		webSearchUseEmitted: make(map[string]bool),
		webSearchResultEmit: make(map[string]bool),
		outputTextBuffers:   make(map[blockKey]string),
		harmonyTextKeys:     make(map[blockKey]bool),
		harmonyConsumedKey:  make(map[blockKey]bool),
	}
}

// allocateBlockIndex assigns the next dense, monotonically increasing
// block index, optionally binding it to key.
func (s *state) allocateBlockIndex(key *blockKey) int {
	index := s.nextBlockIndex
	s.nextBlockIndex++
	if key != nil {
		s.blockIndexByKey[*key] = index
	}
	s.lastBlockIndex = index
	s.hasLastBlock = true
	return index
}

// getOrCreateBlockIndex resolves key to a block index, allocating one if
// unseen. A nil key (no index fields present upstream) inherits the most
// recently allocated index, supporting providers that omit indices for
// single-block responses.
func (s *state) getOrCreateBlockIndex(key *blockKey) (index int, created bool) {
	if key != nil {
		if idx, ok := s.blockIndexByKey[*key]; ok {
			return idx, false
		}
	} else if s.hasLastBlock {
		return s.lastBlockIndex, false
	}
	return s.allocateBlockIndex(key), true
}

func (s *state) initToolInputBuffer(index int) {
	s.toolInputBuffers[index] = ""
}

func (s *state) appendToolInput(index int, partial string) {
	s.toolInputBuffers[index] += partial
}

// bindToolBlock resolves the block index for one tool-call event: callID
// is the preferred binding, falling back to the positional key when
// callID is empty or unseen.
func (s *state) bindToolBlock(key *blockKey, callID string) (index int, created bool) {
	if callID != "" {
		if idx, ok := s.toolBlockByCallID[callID]; ok {
			return idx, false
		}
	}
	index, created = s.getOrCreateBlockIndex(key)
	if callID != "" {
		if _, ok := s.toolBlockByCallID[callID]; !ok {
			s.toolBlockByCallID[callID] = index
		}
	}
	return index, created
}

// mergeToolMeta applies the set-once rule for id/name: the first non-empty
// value wins and is never overwritten.
func (s *state) mergeToolMeta(index int, callID, name string) *toolMeta {
	meta, ok := s.toolMetaByIndex[index]
	if !ok {
		meta = &toolMeta{}
		s.toolMetaByIndex[index] = meta
	}
	if callID != "" && meta.id == "" {
		meta.id = callID
	}
	if name != "" && meta.name == "" {
		meta.name = name
	}
	return meta
}

func ensureToolMetaDefaults(meta *toolMeta, index int, callID, name string) {
	if meta.complete() {
		return
	}
	if callID != "" && meta.id == "" {
		meta.id = callID
	}
	if meta.id == "" {
		meta.id = fmtToolCallID(index)
	}
	if name != "" && meta.name == "" {
		meta.name = name
	}
	if meta.name == "" {
		meta.name = "unknown_tool"
	}
}
