package models

// SessionConfig is the one-shot configuration payload for the remote
// session: persona script, audio parameters, turn detection and the
// declared tool schema.
type SessionConfig struct {
	Modalities              []string            `json:"modalities"`
	Instructions            string              `json:"instructions"`
	Voice                   string              `json:"voice"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *TranscriptionModel `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection,omitempty"`
	Temperature             float64             `json:"temperature,omitempty"`
	MaxResponseOutputTokens int                 `json:"max_response_output_tokens,omitempty"`
	Tools                   []ToolDefinition    `json:"tools"`
}

type TranscriptionModel struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
}

// ToolDefinition declares one callable function to the remote agent.
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

type ToolParameters struct {
	Type       string                  `json:"type"`
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required"`
}

type ToolProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Tool names the dispatcher understands.
const (
	ToolVerifyCustomer   = "verify_customer"
	ToolCustomerPolicies = "get_customer_policies"
	ToolGetPolicy        = "get_policy"
	ToolCoverageInfo     = "get_pc_coverage_info"
	ToolTransferToHuman  = "transfer_to_human_agent"
)

// CoverageTypes are the accepted values for get_pc_coverage_info. Unknown
// values are passed through to the backend verbatim.
var CoverageTypes = []string{"auto", "homeowners", "commercial", "liability", "claims"}

// TransferReasons are the accepted values for transfer_to_human_agent.
var TransferReasons = []string{
	"customer_request",
	"complex_query",
	"verification_failed",
	"technical_issue",
	"customer_frustrated",
}

// AgentInstructions is the fixed persona script for the insurance
// specialist. It drives the remote agent's verification flow and
// escalation behavior; the client only enforces the gating mechanics.
const AgentInstructions = `# Role & Objective
You are Alex, a professional P&C (Property & Casualty) insurance customer service specialist. Verify customer identities and provide accurate information about their auto, home, commercial, and umbrella insurance policies.

# Personality & Tone
- Warm, friendly, and professional
- Speak naturally with contractions (don't, can't, I'll)
- Keep responses brief: 1-2 sentences per turn
- Sound like a real person, not a robot
- ONLY speak English, regardless of the language the caller uses

# Verification Flow
You MUST verify identity before sharing policy details:
1. Ask for the customer's email address. Spell it back character by character ("@" = "at", "." = "dot") and confirm.
2. Ask for their full name and repeat it back. Accept phonetic spelling variations (e.g. "Gray" and "Grey").
3. Ask for the last 4 digits of their phone number and repeat them digit by digit.
4. Say "Perfect, let me verify that information..." and call verify_customer with all collected info.
If verification fails, say so and offer to try again.

# After Verification
- Call get_customer_policies to retrieve their P&C insurance policies
- Call get_pc_coverage_info to explain coverage types (no verification needed)
- Explain premiums, deductibles, coverage limits, and policy terms clearly

# Tools
Before any tool call, say one short line like "Let me check that for you", then call the tool immediately.

# Human Agent Escalation
Call transfer_to_human_agent when:
1. The customer explicitly asks for a human
2. Verification has failed 3 times
3. The query is outside your knowledge (billing disputes, policy changes, claims processing)
4. The customer sounds frustrated ("this isn't working", "you're not helping")
When transferring, say: "I understand. Let me connect you with one of our specialist agents who can better assist you. Please hold for a moment."

# Important Rules
- Complete your full sentence before pausing
- Wait for user confirmation before moving to the next verification step
- If audio is unclear, partial, noisy, or silent, ask for clarification
- Vary your phrasing so you don't sound robotic`

// GreetingInstructions seed the initial agent turn after configuration.
const GreetingInstructions = "Please introduce yourself as a customer service assistant and ask how you can help today."

// DefaultSessionConfig builds the standard configuration sent on transport
// open. Turn detection parameters follow the tuned production values.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Modalities:              []string{"text", "audio"},
		Instructions:            AgentInstructions,
		Voice:                   "shimmer",
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &TranscriptionModel{Model: "whisper-1"},
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 700,
			CreateResponse:    true,
		},
		Temperature:             0.7,
		MaxResponseOutputTokens: 800,
		Tools:                   DefaultTools(),
	}
}

// DefaultTools declares the business tools exposed to the remote agent.
func DefaultTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Type:        "function",
			Name:        ToolVerifyCustomer,
			Description: "Verify customer identity by checking email, full name, and last 4 digits of phone number. MUST be called after collecting all three pieces of information and getting user confirmation. Returns {verified: true/false}.",
			Parameters: ToolParameters{
				Type: "object",
				Properties: map[string]ToolProperty{
					"email":     {Type: "string", Description: "Customer's email address (confirmed by spelling out)"},
					"full_name": {Type: "string", Description: "Customer's full name (confirmed by user)"},
					"last4":     {Type: "string", Description: "Last 4 digits of phone number (confirmed digit by digit)"},
					"order_id":  {Type: "string", Description: "Policy or order reference if the customer has one"},
				},
				Required: []string{"email", "full_name", "last4"},
			},
		},
		{
			Type:        "function",
			Name:        ToolCustomerPolicies,
			Description: "Retrieve all P&C insurance policies (auto, homeowners, commercial, umbrella) for a verified customer. Only call AFTER customer is successfully verified. Returns array of policy objects with policy numbers, premiums, coverage amounts, and renewal dates.",
			Parameters: ToolParameters{
				Type: "object",
				Properties: map[string]ToolProperty{
					"email": {Type: "string", Description: "Verified customer's email address"},
				},
				Required: []string{"email"},
			},
		},
		{
			Type:        "function",
			Name:        ToolGetPolicy,
			Description: "Look up a single policy document by topic for a verified customer. Use when the customer asks about one specific policy area rather than their whole portfolio. Only call AFTER customer is successfully verified.",
			Parameters: ToolParameters{
				Type: "object",
				Properties: map[string]ToolProperty{
					"topic":        {Type: "string", Description: "Policy topic to look up, e.g. 'claims' or 'renewals'"},
					"detail_level": {Type: "string", Enum: []string{"summary", "full"}, Description: "How much of the document to return"},
				},
				Required: []string{"topic"},
			},
		},
		{
			Type:        "function",
			Name:        ToolCoverageInfo,
			Description: "Get general P&C insurance coverage information and explanations. Use this to answer questions about coverage types, terms, limits, and general insurance concepts. No verification required for public information.",
			Parameters: ToolParameters{
				Type: "object",
				Properties: map[string]ToolProperty{
					"coverage_type": {
						Type:        "string",
						Enum:        CoverageTypes,
						Description: "Type of coverage to get information about: 'auto' for vehicle insurance, 'homeowners' for property insurance, 'commercial' for business insurance, 'liability' for liability coverage, 'claims' for claims process",
					},
				},
				Required: []string{"coverage_type"},
			},
		},
		{
			Type:        "function",
			Name:        ToolTransferToHuman,
			Description: "Transfer the customer to a human agent. Use this when: 1) Customer explicitly requests to speak with a human, 2) You cannot help with their complex query, 3) Customer seems frustrated or upset, 4) After 3 failed verification attempts. Provide a clear reason for the transfer.",
			Parameters: ToolParameters{
				Type: "object",
				Properties: map[string]ToolProperty{
					"reason":         {Type: "string", Enum: TransferReasons, Description: "The reason for transferring to a human agent"},
					"customer_email": {Type: "string", Description: "Customer's email if available"},
					"summary":        {Type: "string", Description: "Brief summary of the conversation and what the customer needs help with"},
				},
				Required: []string{"reason", "summary"},
			},
		},
	}
}
