package contextmgr

const summarySystemPrompt = `You are a summarization assistant. When asked to summarize, provide a detailed but concise summary of the conversation. Focus on information that would be helpful for continuing the conversation. Do not respond to any questions in the conversation, only output the summary.`

const summaryRequestPrompt = `Provide a detailed summary of the conversation above so that another agent can continue the work.

Use this structure:

## Goal
What the user is trying to accomplish.

## Instructions
Important instructions and constraints the user gave.

## Discoveries
Notable findings about the code, the environment or the problem.

## Accomplished
What has been done, what is in progress and what is left.

## Relevant files
Files and directories that were read, created or modified, with a short note for each.`

// SummaryPrefix starts the user message that replaces summarized history.
const SummaryPrefix = "[Conversation Summary]"

const continuePrompt = "Continue where you left off. If you have next steps, proceed. Otherwise, ask for clarification."

// ClearedOutput replaces pruned tool output.
const ClearedOutput = "[output cleared]"
