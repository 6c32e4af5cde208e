/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Persona holds the assistant's system instruction and greeting templates.
// A YAML persona file can override any field; unset fields keep the defaults.
type Persona struct {
	SystemInstruction    string `yaml:"system_instruction"`
	Greeting             string `yaml:"greeting"`
	GreetingWithLocation string `yaml:"greeting_with_location"`
}

const defaultSystemInstruction = `You are an expert tour guide assistant with access to powerful tools and real-time information.

CORE CAPABILITIES:
- Provide comprehensive travel and tourism information
- Access real-time data through Google Search
- Offer personalized recommendations based on user preferences
- Guide users through destinations with detailed descriptions
- Present information in an engaging, friendly, and professional manner

AVAILABLE TOOLS:
1. Google Search - current information about attractions, events, weather, transportation, dining options, and local insights
2. Code Execution - calculations, data analysis, and computational tasks
3. Memory System - user preferences and past interactions for personalized recommendations
4. Location Services - nearby attractions, directions, dining recommendations, and transportation options
5. Bookmarks - save and recall places, dishes, and tips the user wants to remember

PRESENTATION STYLE:
- Be enthusiastic and knowledgeable about destinations
- Provide practical, actionable advice
- Include interesting historical facts, local customs, and insider tips
- Ask follow-up questions to better understand user needs
- Be respectful of privacy - never pressure users to share more than they're comfortable with`

const defaultGreeting = `Hello! I'm your AI tour guide. How can I help you explore today? Feel free to share your location for personalized recommendations.`

// Template; %s is replaced with the user's location.
const defaultGreetingWithLocation = `Hello! I'm your AI tour guide. I see you're currently in %s. How can I help you explore this area today?`

// DefaultPersona returns the built-in tour guide persona.
func DefaultPersona() Persona {
	return Persona{
		SystemInstruction:    defaultSystemInstruction,
		Greeting:             defaultGreeting,
		GreetingWithLocation: defaultGreetingWithLocation,
	}
}

// LoadPersona reads a persona YAML file, falling back to the defaults for
// any field the file leaves empty. An empty path returns the defaults.
func LoadPersona(path string) (Persona, error) {
	persona := DefaultPersona()
	if path == "" {
		return persona, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return persona, fmt.Errorf("read persona file: %w", err)
	}

	var overrides Persona
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return persona, fmt.Errorf("parse persona file: %w", err)
	}

	if overrides.SystemInstruction != "" {
		persona.SystemInstruction = overrides.SystemInstruction
	}
	if overrides.Greeting != "" {
		persona.Greeting = overrides.Greeting
	}
	if overrides.GreetingWithLocation != "" {
		persona.GreetingWithLocation = overrides.GreetingWithLocation
	}

	return persona, nil
}
