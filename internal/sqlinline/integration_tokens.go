package sqlinline

// QSelectIntegrationToken returns the stored API key for a provider, ignoring
// blank rows left by manual edits.
const QSelectIntegrationToken = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7
select token
from integration_tokens
where provider = $1::text
  and btrim(token) <> ''
limit 1;
`
