package ai

const RoutePrompt = `
# Task Context
You are a classifier that decides which retrieval strategy should answer a question over a document knowledge graph.

# Background Data
Question: "%s"

# Detailed Task Description & Rules
Choose exactly one route:
- "local": the question asks about specific named things (a person, company, clause, product) and can be answered from the passages that mention them.
- "global": the question asks for themes, trends, summaries or aggregates across many documents ("what are the main risks", "summarize all contracts").
- "drift": the question needs multi-step reasoning that connects several facts, compares entities or depends on a condition ("compare the termination terms of A and B", "if the supplier fails, who pays").

- When unsure, choose "local".
- Do not answer the question itself.

# Examples
Question: "Who is the CEO of Contoso?"
{"route": "local", "reason": "asks for a fact about one named entity"}

Question: "What recurring compliance issues appear across the audit reports?"
{"route": "global", "reason": "asks for a theme across documents"}

Question: "How do the payment terms of the Fabrikam and Northwind agreements differ?"
{"route": "drift", "reason": "compares two entities"}

# Output Formatting
Return only a JSON object: {"route": "<local|global|drift>", "reason": "<short justification>"}
`

const DecomposePrompt = `
# Task Context
You break a complex question into simpler sub-questions that can each be answered by looking up specific entities in a knowledge graph.

# Background Data
Question: "%s"

# Detailed Task Description & Rules
- Produce at most %d sub-questions.
- Each sub-question must be self-contained: repeat entity names instead of using pronouns.
- Order them so that earlier answers help later ones.
- If the question is already simple, return it unchanged as the only sub-question.

# Output Formatting
Return a JSON object: {"questions": ["<sub-question 1>", "<sub-question 2>"]}
`

const QueryPrompt = `
# Task Context
You are a helpful assistant that answers questions using only the evidence passages retrieved from a document knowledge graph.

# Background Data
Each passage is introduced by its source ID in double brackets, followed by the passage text:

[[<source_id>]] (<document>, <section>)
<passage text>

Thematic summaries of related communities may follow the passages; they provide orientation but carry no source ID and must not be cited.

## Data
%s

# Detailed Task Description & Rules
- Do not add any information that is not present in the passages.
- Every factual statement must end with one or more source IDs in the format [[source_id]].
- A statement may have multiple sources: [[id1]] [[id2]].
- Never put anything but a source ID inside the brackets and never invent IDs.
- If passages contradict each other, present every version with its source and say that they are contradictory.
- If no passage answers the question, respond with: "I don't know based on the available documents." in the language of the user.

# Output Formatting
- Return only the answer, formatted in Markdown.
- Always respond in the same language as the question.
`

const CommunitySummaryPrompt = `
# Task Context
You write a short report describing a community of related entities in a knowledge graph.

# Background Data
Entities:
%s

Relationships:
%s

# Detailed Task Description & Rules
- Give the community a short, descriptive title.
- Summarize what ties the entities together and the most important facts about them in at most 150 words.
- Only use the information given above.

# Output Formatting
Return a JSON object: {"title": "<title>", "summary": "<summary>"}
`
