package event

// baseMappings mirror the resume paths every skill relies on: human replies,
// forms and notifications pushed from the counterpart UI, and the cloud
// correlation tag.
var baseMappings = []Rule{
	{
		From:       []string{"event.data.metadata.params._state_patch", "event.data._state_patch"},
		To:         []Target{{Target: "resume._state_patch"}},
		OnConflict: ConflictMerge,
	},
	{
		From: []string{"event.data.qa_form_to_agent", "event.data.qa_form"},
		To: []Target{
			{Target: "state.attributes.forms.qa_form"},
			{Target: "resume.qa_form_to_agent"},
		},
		OnConflict: ConflictMerge,
	},
	{
		From: []string{"event.data.notification_to_agent", "event.data.notification"},
		To: []Target{
			{Target: "state.attributes.notifications.latest"},
			{Target: "resume.notification_to_agent"},
		},
		OnConflict: ConflictMerge,
	},
	{
		From: []string{"event.data.human_text"},
		To: []Target{
			{Target: "state.attributes.human.last_message"},
			{Target: "resume.human_text"},
		},
		Transform:  "to_string",
		OnConflict: ConflictOverwrite,
	},
	{
		From:       []string{"event.tag"},
		To:         []Target{{Target: "state.attributes.cloud_task_id"}},
		OnConflict: ConflictOverwrite,
	},
	{
		From:       []string{"event.data.metadata.async_response", "event.context.async_response"},
		To:         []Target{{Target: "state.attributes.async_response"}},
		OnConflict: ConflictOverwrite,
	},
	{
		From:       []string{"event.ctx.chatId"},
		To:         []Target{{Target: "state.attributes.chat.chat_id"}},
		OnConflict: ConflictOverwrite,
	},
}

var devDebugMapping = Rule{
	From:       []string{"event.data.metadata"},
	To:         []Target{{Target: "state.attributes.debug.last_event_metadata"}},
	OnConflict: ConflictOverwrite,
}

// DefaultRules returns the built-in rule set for a run mode. The developing
// mode additionally captures raw event metadata for inspection.
func DefaultRules(mode string) RuleSet {
	rules := make([]Rule, len(baseMappings))
	copy(rules, baseMappings)
	if mode == "developing" {
		rules = append(rules, devDebugMapping)
	}
	return RuleSet{Mappings: rules}
}
