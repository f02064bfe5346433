package compose

import (
	"fmt"
	"strings"

	"versebot/internal/content"
)

// SystemPrompt sets the voice for every generated reply.
const SystemPrompt = `You are a compassionate Christian companion on social media, sharing God's love and encouragement.

Voice: warm, gentle, patient and joyful. Conversational, never robotic or preachy.

Guidelines:
- Keep every reply under 280 characters.
- Share a relevant Bible verse when it helps.
- Avoid theological debates and denominational arguments.
- Focus on love, hope, faith, forgiveness and grace.
- Use simple language and an occasional emoji (🙏💕✨🌟).
- When someone is hurting, offer comfort, prayer and hope without dismissing their feelings.`

// ReflectionFallback follows the verse post when no reflection can be generated.
const ReflectionFallback = "May this verse bless your day! 🙏"

var cannedReplies = map[string]string{
	IntentPrayerRequest: "🙏 I'm praying for you! 'And the peace of God, which transcends all understanding, will guard your hearts and your minds in Christ Jesus.' - Philippians 4:7",
	IntentVerseRequest:  "'For I know the plans I have for you,' declares the Lord, 'plans to prosper you and not to harm you, to give you hope and a future.' - Jeremiah 29:11 ✨",
	IntentComfortNeeded: "💙 Remember that you're loved and not alone. 'The Lord is close to the brokenhearted and saves those who are crushed in spirit.' - Psalm 34:18",
	IntentGratitude:     "🙌 Praise God! 'Give thanks to the Lord, for he is good; his love endures forever.' - Psalm 107:1",
	IntentQuestion:      "Thank you for reaching out! May God bless you and guide you. 'Trust in the Lord with all your heart.' - Proverbs 3:5 💕",
	IntentGeneral:       "God bless you! 🙏 'Be strong and courageous. Do not be afraid; do not be discouraged, for the Lord your God will be with you wherever you go.' - Joshua 1:9",
}

var intentInstructions = map[string]string{
	IntentPrayerRequest: "This appears to be a prayer request. Respond with compassion, offer to pray for them, and perhaps include a comforting Bible verse.",
	IntentVerseRequest:  "They're asking for a Bible verse. Provide an encouraging verse that fits their situation.",
	IntentComfortNeeded: "This person seems to be going through a difficult time. Offer comfort, hope, and biblical encouragement.",
	IntentGratitude:     "They're expressing gratitude or praise. Celebrate with them and perhaps add a verse about thanksgiving.",
	IntentQuestion:      "They have a question. Answer helpfully while staying true to Christian values.",
	IntentGeneral:       "Respond in a friendly, encouraging way that reflects Christian love.",
}

const declinePolicy = `If the person is combative, rude or argumentative, or a reply would feel annoying or intrusive, answer with exactly NO_REPLY instead. Use NO_REPLY for:
- Hostile language or personal attacks
- Mocking religion or faith
- Obvious spam or promotional content
- Private conversations between others where you weren't invited
- Content designed to provoke arguments
- People who seem annoyed by bot replies`

const maxContextRunes = 200

// MentionContext describes the thread a mention belongs to. The root post is clipped to
// 200 characters.
func MentionContext(original string) string {
	ctx := "Someone is asking for spiritual guidance"
	if original == "" {
		return ctx
	}
	r := []rune(original)
	if len(r) > maxContextRunes {
		original = string(r[:maxContextRunes]) + "..."
	}
	return fmt.Sprintf("%s. They are replying to this original post: %q", ctx, original)
}

func mentionPrompt(text, intent, context string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Someone mentioned you saying: %q\n", text)
	if context != "" {
		fmt.Fprintf(&b, "Context: %s\n", context)
		if strings.Contains(context, "original post") {
			b.WriteString("\nThe person is responding to a specific post. Use it to understand what they mean by \"this\" and address their feelings about it.\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(intentInstructions[intent])
	b.WriteString("\n\nWrite a reply under 280 characters that is warm, genuine and helpful. Do NOT include @username mentions.\n\n")
	b.WriteString(declinePolicy)
	return b.String()
}

func moodPrompt(text string, mood content.Mood, v content.Verse) string {
	return fmt.Sprintf(`Write a compassionate reply to this person, who is feeling %s.

THEIR POST: %q

BIBLE VERSE TO INCLUDE:
"%s" - %s (%s)

Requirements:
- Under 280 characters
- Warm, encouraging and supportive
- Include the verse and its reference
- Address their situation, sound natural, never preachy

Return only the reply text, without surrounding quotes.

%s`, mood, text, v.Text, v.Reference, v.Version, declinePolicy)
}

func reflectionPrompt(v content.Verse) string {
	return fmt.Sprintf(`Write a short message (under 280 characters) giving context for this Bible verse: who wrote it, what it means, or a related story that connects with everyday life today.

Verse: "%s" - %s

The message should relate to the verse's theme, be encouraging, and be informative. Do not repeat the verse itself.`, v.Text, v.Reference)
}
