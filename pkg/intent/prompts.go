package intent

const callScorePrompt = `You score WhatsApp messages for voice call intent.
The user may ask to talk, be called, or have a phone conversation.
Reply with a single number between 0 and 1, where 1 means the user is
clearly asking for a voice call. Reply with the number only.`

const introScorePrompt = `You score WhatsApp messages for introduction intent.
The user may ask to meet someone new, get introduced, or find a connection.
Reply with a single number between 0 and 1, where 1 means the user is
clearly asking for an introduction. Reply with the number only.`

const templateVerdictPrompt = `The user was just offered an introduction and asked
to reply yes or no. Decide whether this message answers that offer.
Reply with JSON only: {"is_template_response": bool, "response_type": "accept"|"decline"|"other", "confidence": number}`

const chatSystemPrompt = `You are a warm, concise WhatsApp assistant for %s.
Their profile: %s
Keep replies short and conversational; this is a phone messaging thread.`

const callConfirmationPrompt = `Write one short WhatsApp message telling %s you
are about to call them right now. Match their vibe. Profile: %s`

const introApologyReply = "I looked around but I don't have a good introduction for you just yet. I'll keep an eye out and let you know!"

const declineReply = "No problem at all, I won't make that introduction. Just say the word whenever you'd like to meet someone."
