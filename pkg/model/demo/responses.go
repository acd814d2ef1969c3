package demo

import "github.com/cexll/chatstream-go/pkg/model"

// PromptInfo is shown next to the prompt box when the demo model is active.
const PromptInfo = "This is Demo prompt to showcase how the streaming works"

// ModelID identifies the single demo model.
const ModelID = "demo_model"

// ChatModel is the canonical demo model entry.
var ChatModel = model.ChatModel{
	ID:      ModelID,
	Name:    "Demo Model",
	Object:  "model",
	OwnedBy: "Demo",
}

// Response pairs a prompt with the reply streamed for it.
type Response struct {
	Prompt  string
	Content string
}

// Responses are the canned demo conversations. The first entry answers any
// prompt without a match.
var Responses = []Response{
	{
		Prompt: "Give me a small overview of the C++ programming language",
		Content: `## C++ at a glance

C++ is a compiled, statically typed language created by **Bjarne Stroustrup** at Bell Labs, first released in 1985 as an extension of C.

### Key traits
- **Zero-overhead abstractions**: classes, templates and inline functions cost nothing you do not use.
- **Manual and automatic resource management**: RAII ties lifetimes to scope, smart pointers handle ownership.
- **Multi-paradigm**: procedural, object oriented, generic and functional styles all fit.

### A tiny example
` + "```cpp" + `
#include <iostream>
#include <vector>

int main() {
    std::vector<int> xs{1, 2, 3};
    for (int x : xs) std::cout << x * x << '\n';
}
` + "```" + `

### Where it is used
Game engines, browsers, databases, trading systems and embedded firmware all lean on C++ for predictable performance.`,
	},
	{
		Prompt: "Give me a small overview of Greek mythology",
		Content: `## Greek mythology in brief

Greek mythology is the body of stories the ancient Greeks told about their gods, heroes and the origins of the world.

### The Olympians
- **Zeus**: king of the gods, ruler of the sky.
- **Hera**: queen of the gods, protector of marriage.
- **Poseidon**: lord of the sea and earthquakes.
- **Athena**: goddess of wisdom and strategic war.
- **Apollo** and **Artemis**: twin gods of light and of the hunt.

### Famous heroes
1. **Heracles** and his twelve labours.
2. **Odysseus**, whose ten-year voyage home fills the *Odyssey*.
3. **Perseus**, who beheaded Medusa.

### Why it still matters
The myths shaped Western art, literature and even everyday words such as *panic*, *echo* and *tantalize*.`,
	},
	{
		Prompt: "Give me a small overview of the Louvre Museum",
		Content: `## The Louvre

The Louvre in Paris is the most visited art museum in the world. It began as a twelfth-century fortress, became a royal palace and opened as a public museum in **1793**.

### Highlights
- *Mona Lisa* by Leonardo da Vinci.
- *Venus de Milo*, a Hellenistic marble statue.
- *Winged Victory of Samothrace* at the top of the Daru staircase.
- *Liberty Leading the People* by Eugène Delacroix.

### The pyramid
I. M. Pei's glass pyramid, completed in **1989**, serves as the main entrance and was controversial before it became an icon.

### Practical tips
Book a timed ticket, arrive early, and pick one wing per visit: the collection holds more than 35,000 works on display.`,
	},
}

// Lookup returns the canned reply for prompt, falling back to the first
// response.
func Lookup(responses []Response, prompt string) string {
	for _, r := range responses {
		if r.Prompt == prompt {
			return r.Content
		}
	}
	if len(responses) == 0 {
		return ""
	}
	return responses[0].Content
}
