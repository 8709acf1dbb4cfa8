package actions

// Intent names one dispatchable action.
type Intent string

const (
	AddTask             Intent = "add_task"
	ListTasks           Intent = "list_tasks"
	CompleteTask        Intent = "complete_task"
	DeleteTask          Intent = "delete_task"
	AddShoppingItem     Intent = "add_shopping_item"
	ListShopping        Intent = "list_shopping"
	RemoveShoppingItem  Intent = "remove_shopping_item"
	SendEmail           Intent = "send_email"
	ReadEmails          Intent = "read_emails"
	ReadLastEmail       Intent = "read_last_email"
	SearchEmails        Intent = "search_emails"
	SummarizeEmail      Intent = "summarize_email"
	SearchInternet      Intent = "search_internet"
	ScheduleMeeting     Intent = "schedule_meeting"
	AddCalendarEvent    Intent = "add_calendar_event"
	ListCalendarEvents  Intent = "list_calendar_events"
	CancelCalendarEvent Intent = "cancel_calendar_event"
)

var allIntents = []Intent{
	AddTask, ListTasks, CompleteTask, DeleteTask,
	AddShoppingItem, ListShopping, RemoveShoppingItem,
	SendEmail, ReadEmails, ReadLastEmail, SearchEmails, SummarizeEmail,
	SearchInternet,
	ScheduleMeeting, AddCalendarEvent, ListCalendarEvents, CancelCalendarEvent,
}

// Intents returns every known intent in registry order.
func Intents() []Intent {
	return append([]Intent(nil), allIntents...)
}

// ParseIntent maps a wire name to an Intent.
func ParseIntent(s string) (Intent, bool) {
	for _, in := range allIntents {
		if string(in) == s {
			return in, true
		}
	}
	return "", false
}

// Batchable reports whether the intent accepts a list of objects.
func (i Intent) Batchable() bool {
	return i == AddTask || i == AddShoppingItem
}
