package tutor

// Tutor describes one selectable teacher. Its ID is the provider name used to
// route requests.
type Tutor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Streaming   bool   `json:"streaming"`
	Description string `json:"description,omitempty"`
}

// Seed returns the tutors backed by the two supported providers.
func Seed() []Tutor {
	return []Tutor{
		{
			ID:          "ark",
			Name:        "Ark老师",
			Title:       "流式讲解",
			Streaming:   true,
			Description: "逐字输出的辅导老师，支持图片与语音题目。",
		},
		{
			ID:          "openai",
			Name:        "OpenAI老师",
			Title:       "整段作答",
			Streaming:   false,
			Description: "一次性给出完整回复的辅导老师，附件以内联数据随问题发送。",
		},
	}
}
