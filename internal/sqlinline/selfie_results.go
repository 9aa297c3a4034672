package sqlinline

const QInsertSelfieResult = `--sql e12af500-c300-4760-8c0b-2cdd633a6be4
insert into selfie_results (
    id, status, created_at, expires_at, client_hash, client_request_id,
    user_agent_hash, prompt_version, updated_at
)
values ($1::text, $2::text, $3::timestamptz, $4::timestamptz, $5::text, $6::text,
    nullif($7::text, ''), $8::text, now());
`

const QSelectSelfieResultByID = `--sql 97531d27-bb90-4aa6-aa40-ada74d2257dc
select id, status, created_at, started_at, expires_at, client_hash, client_request_id,
    coalesce(user_agent_hash, ''), coalesce(upload_object_key, ''),
    coalesce(generated_object_key, ''), coalesce(final_object_key, ''),
    coalesce(public_image_url, ''), coalesce(error_message, ''),
    coalesce(internal_error_code, ''), prompt_version
from selfie_results
where id = $1::text;
`

const QSelectSelfieResultByIdempotencyKey = `--sql 99687c4e-176d-4fa3-ae0d-090fc4da679d
select id, status, created_at, started_at, expires_at, client_hash, client_request_id,
    coalesce(user_agent_hash, ''), coalesce(upload_object_key, ''),
    coalesce(generated_object_key, ''), coalesce(final_object_key, ''),
    coalesce(public_image_url, ''), coalesce(error_message, ''),
    coalesce(internal_error_code, ''), prompt_version
from selfie_results
where client_hash = $1::text
  and client_request_id = $2::text;
`

const QMarkSelfieResultStarted = `--sql a808f97b-2c83-4d94-b6b9-3f8047dcfce7
update selfie_results
set started_at = $2::timestamptz, updated_at = now()
where id = $1::text
  and status = 'processing';
`

const QMarkSelfieResultReady = `--sql bd6df012-1daa-471a-be47-8ab7f78efa05
update selfie_results
set status = 'ready',
    upload_object_key = $2::text,
    generated_object_key = $3::text,
    final_object_key = $4::text,
    public_image_url = $5::text,
    error_message = null,
    internal_error_code = null,
    updated_at = now()
where id = $1::text
  and status = 'processing';
`

const QMarkSelfieResultFailed = `--sql aef23c44-3dac-4b7d-b59d-3cba60bd4266
update selfie_results
set status = 'failed',
    error_message = $2::text,
    internal_error_code = $3::text,
    updated_at = now()
where id = $1::text
  and status = 'processing';
`

const QListExpiredSelfieResults = `--sql 97d86faa-c7c6-46be-90ae-91e16f7d8f66
select id, status, created_at, started_at, expires_at, client_hash, client_request_id,
    coalesce(user_agent_hash, ''), coalesce(upload_object_key, ''),
    coalesce(generated_object_key, ''), coalesce(final_object_key, ''),
    coalesce(public_image_url, ''), coalesce(error_message, ''),
    coalesce(internal_error_code, ''), prompt_version
from selfie_results
where expires_at <= $1::timestamptz
order by expires_at asc;
`

const QDeleteSelfieResults = `--sql 700f5214-f0d0-40b1-abb1-8e5dd5178ddf
delete from selfie_results
where id = any($1::text[]);
`
