// Package chatbot answers simple shop questions from canned templates.
package chatbot

import (
	"math/rand/v2"
	"strings"
	"unicode"
)

const (
	CategoryGreeting = "greeting"
	CategoryBooking  = "booking"
	CategoryServices = "services"
	CategoryHours    = "hours"
	CategoryDefault  = "default"
)

var templates = map[string][]string{
	CategoryGreeting: {
		"Hello! I'm your ModernMen assistant. I can help you book appointments, check schedules, or answer questions about our services.",
		"Hi there! How can I help you today? I can assist with appointments, service information, or general questions.",
		"Welcome to ModernMen! I'm here to help with anything you need.",
	},
	CategoryBooking: {
		"I'd be happy to help you book an appointment! What service are you interested in?",
		"Let me help you schedule an appointment. Which service would you like to book?",
		"Great! I can help you find the perfect appointment slot. What type of service are you looking for?",
	},
	CategoryServices: {
		"We offer a variety of services including haircuts, beard trims, hot towel shaves, and styling. What would you like to know more about?",
		"Our services include classic haircuts, modern fades, beard grooming, and premium shave experiences. Which interests you?",
		"ModernMen provides professional grooming services from haircuts to full beard maintenance. What can I tell you about?",
	},
	CategoryHours: {
		"We're open Monday-Friday 9am-7pm, Saturday 8am-6pm, and Sunday 10am-5pm. When would you like to visit?",
		"Our hours are Mon-Fri 9-7, Sat 8-6, Sun 10-5. What day works best for you?",
		"We're here Monday through Sunday with extended weekend hours. When are you available?",
	},
	CategoryDefault: {
		"I'd be happy to help you with that! Can you tell me more about what you're looking for?",
		"That's a great question! Let me help you find the right information.",
		"I'm here to assist! Could you provide a bit more detail about what you need?",
	},
}

const followUp = "Perfect! For that service, I can check our availability. Would you prefer morning or afternoon appointments?"

// Capabilities is served by the chatbot's GET endpoint.
var Capabilities = []string{
	"Appointment booking assistance",
	"Service information",
	"Hours and location",
	"General questions",
}

// Categories are checked in this order; the first match wins. Greeting
// words must match whole words, the rest match word prefixes.
var rules = []struct {
	category string
	exact    bool
	words    []string
}{
	{CategoryGreeting, true, []string{"hello", "hi", "hey"}},
	{CategoryBooking, false, []string{"book", "appointment", "schedul"}},
	{CategoryServices, false, []string{"service", "haircut", "beard", "shave"}},
	{CategoryHours, false, []string{"hour", "open", "clos", "time"}},
}

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Reply struct {
	Message  string `json:"message"`
	Category string `json:"category"`
}

type Bot struct {
	pick func(n int) int
}

func New() *Bot {
	return &Bot{pick: rand.IntN}
}

func Categorize(message string) string {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, rule := range rules {
		for _, w := range words {
			for _, k := range rule.words {
				if (rule.exact && w == k) || (!rule.exact && strings.HasPrefix(w, k)) {
					return rule.category
				}
			}
		}
	}
	return CategoryDefault
}

// Respond answers message. When the previous assistant turn talked about an
// appointment and the user now asks about services, it offers to check
// availability instead.
func (b *Bot) Respond(message string, history []Turn) Reply {
	category := Categorize(message)
	options := templates[category]
	reply := Reply{Category: category, Message: options[b.pick(len(options))]}

	if n := len(history); n > 0 && category == CategoryServices {
		last := history[n-1]
		if last.Role == "assistant" && strings.Contains(strings.ToLower(last.Content), "appointment") {
			reply.Message = followUp
		}
	}
	return reply
}
