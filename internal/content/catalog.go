// Package content holds the built-in rights catalog and generates
// region-specific rights guidance through a language model, falling back to
// the catalog whenever generation fails.
package content

import "slices"

// GenericCategory is the catalog key used for categories the catalog does
// not know.
const GenericCategory = "general"

type Category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

// GeneratedContent is one piece of rights guidance.
type GeneratedContent struct {
	Rights   []string `json:"rights"`
	Script   string   `json:"script"`
	Tips     []string `json:"tips"`
	Warnings []string `json:"warnings"`
}

// Clone returns a deep copy so callers cannot alter catalog data.
func (c GeneratedContent) Clone() GeneratedContent {
	return GeneratedContent{
		Rights:   slices.Clone(c.Rights),
		Script:   c.Script,
		Tips:     slices.Clone(c.Tips),
		Warnings: slices.Clone(c.Warnings),
	}
}

type Entry struct {
	Title   string
	Content GeneratedContent
}

// Script is the short set of lines to read out during an encounter.
type Script struct {
	Opening   string `json:"opening"`
	Questions string `json:"questions"`
	Recording string `json:"recording"`
}

var regions = []string{
	"Alabama", "Alaska", "Arizona", "Arkansas", "California", "Colorado",
	"Connecticut", "Delaware", "Florida", "Georgia", "Hawaii", "Idaho",
	"Illinois", "Indiana", "Iowa", "Kansas", "Kentucky", "Louisiana",
	"Maine", "Maryland", "Massachusetts", "Michigan", "Minnesota",
	"Mississippi", "Missouri", "Montana", "Nebraska", "Nevada",
	"New Hampshire", "New Jersey", "New Mexico", "New York",
	"North Carolina", "North Dakota", "Ohio", "Oklahoma", "Oregon",
	"Pennsylvania", "Rhode Island", "South Carolina", "South Dakota",
	"Tennessee", "Texas", "Utah", "Vermont", "Virginia", "Washington",
	"West Virginia", "Wisconsin", "Wyoming",
}

var categories = []Category{
	{ID: "traffic-stop", Label: "Traffic Stop", Icon: "🚗"},
	{ID: "home-visit", Label: "Home Visit", Icon: "🏠"},
	{ID: "street-encounter", Label: "Street Encounter", Icon: "🚶"},
	{ID: "arrest", Label: "Arrest Situation", Icon: "⚖️"},
}

var defaults = map[string]Entry{
	"traffic-stop": {
		Title: "Traffic Stop Rights",
		Content: GeneratedContent{
			Rights: []string{
				"You have the right to remain silent beyond identifying yourself when the law requires it.",
				"You have the right to refuse consent to a search of your vehicle.",
				"Passengers may ask whether they are free to leave.",
				"You have the right to record the interaction from a safe position.",
			},
			Script: "Officer, I am exercising my right to remain silent. I do not consent to any searches.",
			Tips: []string{
				"Pull over safely, turn off the engine and keep your hands on the wheel.",
				"Tell the officer before reaching for your license or registration.",
				"Stay calm and polite even if you believe the stop is unfair.",
			},
			Warnings: []string{
				"Never physically resist, even if a search seems unlawful.",
				"Refusing a lawful order to exit the vehicle can lead to arrest.",
			},
		},
	},
	"home-visit": {
		Title: "Home Visit Rights",
		Content: GeneratedContent{
			Rights: []string{
				"You do not have to open the door unless officers have a warrant.",
				"You have the right to see a warrant before anyone enters.",
				"You have the right to remain silent.",
				"You may refuse consent to a search of your home.",
			},
			Script: "I do not consent to any search. Please slide the warrant under the door or hold it to the window.",
			Tips: []string{
				"Speak through the closed door.",
				"Check that a warrant is signed by a judge and lists your address.",
				"Step outside and close the door behind you if you choose to talk.",
			},
			Warnings: []string{
				"Opening the door can be treated as an invitation to enter.",
				"Do not lie to officers or give false documents.",
			},
		},
	},
	"street-encounter": {
		Title: "Street Encounter Rights",
		Content: GeneratedContent{
			Rights: []string{
				"You have the right to remain silent.",
				"You have the right to ask whether you are free to go.",
				"You may refuse consent to a search of yourself or your belongings.",
				"An officer may pat you down only with reasonable suspicion that you are armed.",
			},
			Script: "I am exercising my right to remain silent. Am I free to go?",
			Tips: []string{
				"If you are free to go, leave calmly.",
				"Keep your hands visible.",
				"Remember badge numbers and patrol car numbers.",
			},
			Warnings: []string{
				"Do not run or physically resist.",
				"Some states require you to give your name when lawfully detained.",
			},
		},
	},
	"arrest": {
		Title: "Arrest Situation Rights",
		Content: GeneratedContent{
			Rights: []string{
				"You have the right to remain silent.",
				"You have the right to an attorney, including one appointed if you cannot afford one.",
				"You have the right to make a phone call after booking.",
				"You do not have to consent to searches beyond a search incident to arrest.",
			},
			Script: "I invoke my right to remain silent and my right to an attorney. I want to speak to a lawyer immediately.",
			Tips: []string{
				"Say clearly that you want a lawyer and then stop talking.",
				"Do not sign anything without a lawyer present.",
				"Memorize the phone number of a trusted contact.",
			},
			Warnings: []string{
				"Never resist arrest, even if you believe it is unlawful.",
				"Anything you say can be used against you, including small talk.",
			},
		},
	},
	GenericCategory: {
		Title: "Know Your Rights",
		Content: GeneratedContent{
			Rights: []string{
				"You have the right to remain silent.",
				"You have the right to refuse consent to searches.",
				"You have the right to an attorney.",
			},
			Script: "I am exercising my right to remain silent.",
			Tips: []string{
				"Stay calm and keep your hands visible.",
				"Ask whether you are free to go.",
			},
			Warnings: []string{
				"Never physically resist an officer.",
			},
		},
	},
}

var scripts = map[string]Script{
	"traffic-stop": {
		Opening:   "Officer, I'm exercising my right to remain silent. I do not consent to any searches.",
		Questions: "Am I free to go? If not, what am I being detained for?",
		Recording: "I am recording this interaction for my safety and yours.",
	},
	"home-visit": {
		Opening:   "I do not consent to any search. Do you have a warrant?",
		Questions: "What is this regarding? Am I under arrest?",
		Recording: "I am recording this interaction as is my right.",
	},
	"street-encounter": {
		Opening:   "I'm exercising my right to remain silent.",
		Questions: "Am I free to go? Am I being detained?",
		Recording: "I am recording this interaction.",
	},
	"arrest": {
		Opening:   "I invoke my right to remain silent and my right to an attorney.",
		Questions: "I want to speak to a lawyer immediately.",
		Recording: "I am being arrested. Please contact my emergency contacts.",
	},
}

// Regions lists the supported regions in display order.
func Regions() []string {
	return slices.Clone(regions)
}

func ValidRegion(region string) bool {
	return slices.Contains(regions, region)
}

// Categories lists the supported interaction categories in display order.
func Categories() []Category {
	return slices.Clone(categories)
}

func LookupCategory(id string) (Category, bool) {
	for _, c := range categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// Default returns the built-in entry for a category, or the generic entry
// when the category is unknown.
func Default(category string) Entry {
	entry, ok := defaults[category]
	if !ok {
		entry = defaults[GenericCategory]
	}
	return Entry{Title: entry.Title, Content: entry.Content.Clone()}
}

func EmergencyScript(category string) (Script, bool) {
	s, ok := scripts[category]
	return s, ok
}
