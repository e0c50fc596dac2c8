package candidates

// Engine names used by the static table and by discovery.
const (
	EngineGemini   = "Gemini"
	EngineGroq     = "Groq"
	EngineClaude   = "Claude"
	EngineDeepSeek = "DeepSeek"
	EngineCerebras = "Cerebras"
	EngineMistral  = "Mistral"
	EngineOpenAI   = "OpenAI"
)

// StaticTable returns the hand-curated lineup used when discovery is unavailable
// or yields nothing.
func StaticTable() *Table {
	const (
		gemini25Pro       = "gemini-2.5-pro-preview-05-06"
		gemini25Flash     = "gemini-2.5-flash-preview-05-20"
		gemini20Flash     = "gemini-2.0-flash"
		gemini20FlashLite = "gemini-2.0-flash-lite"
		deepseekChat      = "deepseek-chat"
		groqVersatile     = "llama-3.3-70b-versatile"
	)

	return NewTableBuilder().
		Add(T1, EngineGemini, gemini20FlashLite, RoleReflexive).
		Add(T1, EngineGemini, gemini20Flash, RoleAffective).
		Add(T1, EngineDeepSeek, deepseekChat, RoleReflexive).
		Add(T1, EngineGroq, groqVersatile, RoleReflexive).
		Add(T2, EngineGemini, gemini25Flash, RoleAffective).
		Add(T2, EngineGemini, gemini20Flash, RoleAffective).
		Add(T2, EngineDeepSeek, deepseekChat, RoleReflexive).
		Add(T3, EngineGemini, gemini25Pro, RoleCognitive).
		Add(T3, EngineGemini, gemini25Flash, RoleAffective).
		Add(T4, EngineGemini, gemini25Pro, RoleCognitive).
		Build()
}
